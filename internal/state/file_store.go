package state

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yanun0323/logs"

	"github.com/yanun0323/go-autotrader/internal/errors"
	"github.com/yanun0323/go-autotrader/pkg/exception"
)

const (
	recordExt = ".ckpt"
	tempExt   = ".tmp"
)

// FileStore keeps one file per key under a root directory.
type FileStore struct {
	root string
}

// NewFileStore opens the directory and removes temp files left by interrupted writes.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "file store root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(exception.ErrStoreUnavailable, "create %s: %v", root, err)
	}
	s := &FileStore{root: root}
	if err := s.cleanTemp(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(rec.Key); err != nil {
		return err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return errors.Wrapf(err, "encode record %s", rec.Key)
	}

	path := s.path(rec.Key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return unavailable("mkdir", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*"+tempExt)
	if err != nil {
		return unavailable("create temp", dir, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return unavailable("write", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return unavailable("fsync", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("close", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return unavailable("rename", path, err)
	}
	committed = true
	return syncDir(dir)
}

func (s *FileStore) Load(ctx context.Context, key string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, errors.Wrapf(exception.ErrCheckpointNotFound, "key %s", key)
		}
		return Record{}, unavailable("read", s.path(key), err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return Record{}, errors.Wrapf(err, "key %s", key)
	}
	if rec.Key != key {
		return Record{}, errors.Wrapf(exception.ErrCheckpointCorrupt, "key %s holds record for %s", key, rec.Key)
	}
	return rec, nil
}

func (s *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, recordExt) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), recordExt)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("walk", s.root, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	path := s.path(key)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return unavailable("remove", path, err)
	}
	return syncDir(filepath.Dir(path))
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key)+recordExt)
}

func (s *FileStore) cleanTemp() error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return unavailable("walk", s.root, err)
		}
		if d.IsDir() || !strings.HasSuffix(path, tempExt) {
			return nil
		}
		logs.Infof("state: removing interrupted checkpoint write %s", path)
		if err := os.Remove(path); err != nil {
			return unavailable("remove temp", path, err)
		}
		return nil
	})
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return unavailable("open dir", dir, err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return unavailable("fsync dir", dir, err)
	}
	return nil
}

func unavailable(op, path string, err error) error {
	return errors.Wrapf(exception.ErrStoreUnavailable, "%s %s: %v", op, path, err)
}
