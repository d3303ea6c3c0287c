package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/marketplace/internal/filex"
)

// DiskStore writes uploads into a local directory, creating it on first use.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func validName(name string) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid object name %q", name)
	}
	return nil
}

func (d *DiskStore) Save(ctx context.Context, name string, r io.Reader) error {
	if err := validName(name); err != nil {
		return err
	}

	dir, err := filex.EnsureDir(d.dir)
	if err != nil {
		return err
	}

	// Reads at most MaxImageSize+1 bytes; anything longer is rejected.
	return filex.WriteFileAtomic(filepath.Join(dir, name), func(f *os.File) error {
		n, err := io.Copy(f, io.LimitReader(r, MaxImageSize+1))
		if err != nil {
			return fmt.Errorf("write upload: %w", err)
		}
		if n > MaxImageSize {
			return ErrFileTooLarge
		}
		if n == 0 {
			return ErrEmptyFile
		}
		return ctx.Err()
	})
}

func (d *DiskStore) Delete(_ context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(d.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return nil
}
