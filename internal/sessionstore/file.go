package sessionstore

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"moff.io/moff-wallet/pkg/errors"
)

// FileStore keeps the session in one file, sessioninfo.json by default.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(dir, name string) (*FileStore, error) {
	if name == "" {
		name = DefaultKey
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create session dir %v", dir)
	}
	return &FileStore{path: filepath.Join(dir, name)}, nil
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(_ context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, err := ioutil.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "read session file %v", f.path)
	}
	return string(blob), true, nil
}

func (f *FileStore) Save(_ context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return writeAtomic(f.path, []byte(session), 0o600)
}

func (f *FileStore) Delete(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "remove session file %v", f.path)
	}
	return true, nil
}

func (f *FileStore) Close() error {
	return nil
}

// writeAtomic writes through a temp file in the same directory and renames it over path,
// so a crash never leaves a half written session behind.
func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := ioutil.TempFile(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "create temp session file")
	}
	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "write temp session file")
	}
	if err := tmp.Chmod(perm); err != nil {
		return errors.Wrap(err, "chmod temp session file")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temp session file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp session file")
	}
	closed = true
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Wrap(err, "rename session file")
	}
	return nil
}
