package uploads

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var recordsBucket = []byte("uploads")

// Record describes one stored upload.
type Record struct {
	StoredPath   string    `json:"-"`
	StoredName   string    `json:"storedName"`
	OriginalName string    `json:"originalName"`
	RelativePath string    `json:"relativePath"`
	MIME         string    `json:"mime"`
	Size         int64     `json:"size"`
	Source       string    `json:"source"`
	UploadedAt   time.Time `json:"uploadedAt"`
}

// Serialize encodes a Record using gob
func (r *Record) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a Record from gob
func (r *Record) Deserialize(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(r)
}

// Store keeps upload records in a bbolt file, keyed by insertion sequence.
type Store struct {
	db *bolt.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open upload store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(recordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create upload bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add appends rec.
func (s *Store) Add(rec *Record) error {
	data, err := rec.Serialize()
	if err != nil {
		return fmt.Errorf("encode upload record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]Record, error) {
	records := []Record{}
	if n <= 0 {
		return records, nil
	}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(recordsBucket).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var rec Record
			if err := rec.Deserialize(v); err != nil {
				return fmt.Errorf("decode upload record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Count is the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(recordsBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
