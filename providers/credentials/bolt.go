package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var sessionsBucket = []byte("sessions")

// BoltPersister stores one JSON snapshot per provider name in a bbolt file.
// The database is opened per operation so several processes can share it.
type BoltPersister struct {
	path string
}

// NewBoltPersister returns a persister writing to path. Parent directories
// are created on first save.
func NewBoltPersister(path string) *BoltPersister {
	return &BoltPersister{path: path}
}

// DefaultBoltPath is the session file under the user's cache directory.
func DefaultBoltPath() string {
	dir, err := os.UserCacheDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "webchat", "sessions.bolt")
}

func (p *BoltPersister) open() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return nil, err
	}
	return bolt.Open(p.path, 0o600, &bolt.Options{Timeout: time.Second})
}

// Save writes snapshot under name, replacing any previous value.
func (p *BoltPersister) Save(name string, snapshot Snapshot) error {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	db, err := p.open()
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() { _ = db.Close() }()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), encoded)
	})
}

// Load returns the snapshot stored under name, or nil when there is none.
// A malformed entry is treated as absent.
func (p *BoltPersister) Load(name string) (*Snapshot, error) {
	if _, err := os.Stat(p.path); os.IsNotExist(err) {
		return nil, nil
	}
	db, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	defer func() { _ = db.Close() }()

	var snapshot *Snapshot
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(name))
		if len(v) == 0 {
			return nil
		}
		var decoded Snapshot
		if json.Unmarshal(v, &decoded) != nil {
			return nil
		}
		snapshot = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
