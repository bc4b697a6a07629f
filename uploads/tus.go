package uploads

import (
	"context"
	"os"
	"path/filepath"

	"github.com/tus/tusd/pkg/filestore"
	"github.com/tus/tusd/pkg/handler"
	"go.uber.org/zap"

	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
)

// Tus accepts resumable uploads into a temporary directory and hands every
// completed upload to the Manager.
type Tus struct {
	Handler *handler.Handler

	tempDir string
	manager *Manager
}

// NewTus creates the tusd handler mounted at basePath. Uploads whose
// metadata already breaks the policy are refused at creation.
func (m *Manager) NewTus(tempDir, basePath string) (*Tus, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, err
	}

	store := filestore.New(tempDir)
	composer := handler.NewStoreComposer()
	store.UseIn(composer)

	config := handler.Config{
		StoreComposer:         composer,
		NotifyCompleteUploads: true,
		BasePath:              basePath,
		MaxSize:               m.policy.MaxBytes,
		PreUploadCreateCallback: func(hook handler.HookEvent) error {
			if err := m.policy.CheckFolder(uploadFolder(hook.Upload.MetaData)); err != nil {
				return err
			}
			return m.policy.Check(hook.Upload.MetaData["filename"], hook.Upload.Size)
		},
	}

	h, err := handler.NewHandler(config)
	if err != nil {
		return nil, err
	}
	return &Tus{Handler: h, tempDir: tempDir, manager: m}, nil
}

// Run consumes completion events until ctx is done.
func (t *Tus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.Handler.CompleteUploads:
			if !ok {
				return
			}
			t.complete(event)
		}
	}
}

func (t *Tus) complete(event handler.HookEvent) (*Record, error) {
	info := event.Upload
	src := filepath.Join(t.tempDir, info.ID)
	defer os.Remove(src + ".info")

	logger := logging.L().With(zap.String("upload_id", info.ID))
	logger.Info("resumable upload completed",
		zap.String("filename", info.MetaData["filename"]),
		zap.Int64("size", info.Size),
	)

	rec, err := t.manager.Adopt(uploadFolder(info.MetaData), info.MetaData["filename"], src)
	if err != nil {
		os.Remove(src)
		logger.Warn("resumable upload rejected", zap.Error(err))
		return nil, err
	}
	return rec, nil
}

// uploadFolder reads the target folder from tus metadata. "relativePath" is
// what older clients send.
func uploadFolder(meta handler.MetaData) string {
	if folder := meta["folder"]; folder != "" {
		return folder
	}
	return meta["relativePath"]
}
