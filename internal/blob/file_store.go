package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps files under root/<kind>/<name>.
type FileStore struct {
	root string
}

// NewFileStore creates the kind directories under root.
func NewFileStore(root string) (*FileStore, error) {
	for _, k := range []Kind{KindEvidence, KindSWMS, KindSignature} {
		if err := os.MkdirAll(filepath.Join(root, string(k)), 0o750); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", k, err)
		}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(ref Ref) string {
	return filepath.Join(s.root, string(ref.Kind), ref.Name)
}

// Put writes the file atomically through a temp file and rename.
func (s *FileStore) Put(ctx context.Context, ref Ref, data []byte, _ string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	final := s.path(ref)
	tmp, err := os.CreateTemp(filepath.Dir(final), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", ref.Key(), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", ref.Key(), err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", ref.Key(), err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, ref Ref) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref.Key(), err)
	}
	return data, nil
}

func (s *FileStore) Delete(_ context.Context, ref Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	err := os.Remove(s.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, ref.Key())
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", ref.Key(), err)
	}
	return nil
}
