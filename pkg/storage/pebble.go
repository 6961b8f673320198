package storage

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
)

// Pebble stores keys in a PebbleDB under the client's data directory.
type Pebble struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*Pebble, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data dir")
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &Pebble{db: db}, nil
}

// OpenMemory opens a Pebble store backed by an in-memory filesystem.
func OpenMemory() (*Pebble, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory pebble")
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(key string) (string, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "get %s", key)
	}
	defer func() { _ = closer.Close() }()
	return string(v), true, nil
}

func (p *Pebble) Set(key, value string) error {
	return errors.Wrapf(p.db.Set([]byte(key), []byte(value), pebble.Sync), "set %s", key)
}

func (p *Pebble) Delete(key string) error {
	return errors.Wrapf(p.db.Delete([]byte(key), pebble.Sync), "delete %s", key)
}

func (p *Pebble) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
