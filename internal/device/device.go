// Package device owns the page-addressable database file. Pages are
// fixed-size and addressed by their byte offset; address zero is the
// header page.
package device

import (
	"fmt"
	"os"

	"jrnldb/pkg/dberrors"
)

type File struct {
	f        *os.File
	path     string
	pageSize uint32
}

func Create(path string, pageSize uint32) (*File, error) {
	if pageSize == 0 {
		return nil, fmt.Errorf("page size must be positive: %w", dberrors.ErrInvalidArgument)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create page file: %w", err)
	}
	return &File{f: f, path: path, pageSize: pageSize}, nil
}

func Open(path string, pageSize uint32) (*File, error) {
	if pageSize == 0 {
		return nil, fmt.Errorf("page size must be positive: %w", dberrors.ErrInvalidArgument)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open page file: %w", err)
	}
	return &File{f: f, path: path, pageSize: pageSize}, nil
}

func (d *File) PageSize() uint32 { return d.pageSize }

func (d *File) FileSize() (uint64, error) {
	if d.f == nil {
		return 0, dberrors.ErrClosed
	}
	st, err := d.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat page file: %w", err)
	}
	return uint64(st.Size()), nil
}

func (d *File) Truncate(size uint64) error {
	if d.f == nil {
		return dberrors.ErrClosed
	}
	if err := d.f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("truncate page file: %w", err)
	}
	return nil
}

// ReadPage fetches the page at the given address.
func (d *File) ReadPage(address uint64) ([]byte, error) {
	if d.f == nil {
		return nil, dberrors.ErrClosed
	}
	buf := make([]byte, d.pageSize)
	if _, err := d.f.ReadAt(buf, int64(address)); err != nil {
		return nil, fmt.Errorf("read page at %d: %w", address, err)
	}
	return buf, nil
}

// WritePage overwrites the page at the given address.
func (d *File) WritePage(address uint64, data []byte) error {
	if d.f == nil {
		return dberrors.ErrClosed
	}
	if uint32(len(data)) != d.pageSize {
		return fmt.Errorf("page image is %d bytes, want %d: %w",
			len(data), d.pageSize, dberrors.ErrInvalidArgument)
	}
	if _, err := d.f.WriteAt(data, int64(address)); err != nil {
		return fmt.Errorf("write page at %d: %w", address, err)
	}
	return nil
}

// AllocPage appends a new page at the end of the file and returns its
// address.
func (d *File) AllocPage(data []byte) (uint64, error) {
	size, err := d.FileSize()
	if err != nil {
		return 0, err
	}
	if err := d.WritePage(size, data); err != nil {
		return 0, err
	}
	return size, nil
}

func (d *File) Sync() error {
	if d.f == nil {
		return dberrors.ErrClosed
	}
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("sync page file: %w", err)
	}
	return nil
}

func (d *File) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	if err != nil {
		return fmt.Errorf("close page file: %w", err)
	}
	return nil
}
