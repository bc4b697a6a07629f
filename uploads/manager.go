package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/otiai10/copy"
	"go.uber.org/zap"

	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
	"github.com/Kighlander1975/dbe-exercise-file-upload/metrics"
	"github.com/Kighlander1975/dbe-exercise-file-upload/pathsafe"
	"github.com/Kighlander1975/dbe-exercise-file-upload/stream"
)

// Manager places uploads below the upload root and records them.
type Manager struct {
	guard  *pathsafe.Guard
	policy Policy
	store  *Store

	inProgress sync.WaitGroup
	onStored   func(Record)
}

// NewManager builds a manager; store may be nil, in which case nothing is
// recorded.
func NewManager(guard *pathsafe.Guard, policy Policy, store *Store) *Manager {
	return &Manager{guard: guard, policy: policy, store: store}
}

func (m *Manager) Policy() Policy {
	return m.policy
}

// OnStored registers fn to run after every stored upload. Call it before
// the manager is in use.
func (m *Manager) OnStored(fn func(Record)) {
	m.onStored = fn
}

// Save writes the content of r as a new file below folder. The size claimed
// by the client is checked first; the copy itself stops one byte past the
// limit so a lying client is caught as well.
func (m *Manager) Save(folder, originalName string, size int64, r io.Reader) (rec *Record, err error) {
	m.inProgress.Add(1)
	defer m.inProgress.Done()
	defer func() { metrics.RecordUpload(Reason(err), recordSize(rec)) }()

	dst, err := m.prepare(folder, originalName, size)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMove, err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(r, m.policy.MaxBytes+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil || closeErr != nil:
		os.Remove(dst)
		return nil, fmt.Errorf("%w: %v", ErrMove, errors.Join(copyErr, closeErr))
	case n > m.policy.MaxBytes:
		os.Remove(dst)
		return nil, fmt.Errorf("%w: more than %d bytes received", ErrTooLarge, m.policy.MaxBytes)
	}

	return m.record(dst, originalName, n, "form")
}

// Adopt moves a finished file (a completed resumable upload) below folder.
func (m *Manager) Adopt(folder, originalName, src string) (rec *Record, err error) {
	m.inProgress.Add(1)
	defer m.inProgress.Done()
	defer func() { metrics.RecordUpload(Reason(err), recordSize(rec)) }()

	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMove, err)
	}

	dst, err := m.prepare(folder, originalName, info.Size())
	if err != nil {
		return nil, err
	}
	if err := move(src, dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMove, err)
	}
	return m.record(dst, originalName, info.Size(), "tus")
}

// Wait blocks until every upload being written has finished.
func (m *Manager) Wait() {
	m.inProgress.Wait()
}

// Recent returns the latest records, newest first.
func (m *Manager) Recent(n int) ([]Record, error) {
	if m.store == nil {
		return []Record{}, nil
	}
	return m.store.Recent(n)
}

// prepare validates the request and returns the destination path, creating
// the target directory on demand.
func (m *Manager) prepare(folder, originalName string, size int64) (string, error) {
	if err := m.policy.CheckFolder(folder); err != nil {
		return "", err
	}
	if err := m.policy.Check(originalName, size); err != nil {
		return "", err
	}

	dir, err := m.guard.Resolve(folder)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidStructure, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrMove, dir, err)
	}
	return filepath.Join(dir, StoredName(originalName)), nil
}

func (m *Manager) record(dst, originalName string, size int64, source string) (*Record, error) {
	rel, err := filepath.Rel(m.guard.Root(), dst)
	if err != nil {
		rel = filepath.Base(dst)
	}

	rec := &Record{
		StoredPath:   dst,
		StoredName:   filepath.Base(dst),
		OriginalName: baseName(originalName),
		RelativePath: filepath.ToSlash(rel),
		MIME:         stream.DetectMIME(dst),
		Size:         size,
		Source:       source,
		UploadedAt:   time.Now().UTC(),
	}

	if m.store != nil {
		if err := m.store.Add(rec); err != nil {
			// history is best effort
			logging.L().Warn("failed to record upload", zap.String("path", rec.RelativePath), zap.Error(err))
		}
	}
	logging.L().Info("upload stored",
		zap.String("path", rec.RelativePath),
		zap.String("mime", rec.MIME),
		zap.Int64("size", rec.Size),
		zap.String("source", source),
	)
	if m.onStored != nil {
		m.onStored(*rec)
	}
	return rec, nil
}

func recordSize(rec *Record) int64 {
	if rec == nil {
		return 0
	}
	return rec.Size
}

func move(src, dst string) error {
	// Copy file OR directory to destination
	if err := copy.Copy(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}
