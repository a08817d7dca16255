package fvdedevice

import (
	"io"
	"os"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// Destination is a seekable, write-only view of a dump's output file.
type Destination struct {
	file *os.File
	path string
}

// CreateDestination opens path write-only with exclusive intent (§5:
// "concurrent writers are not supported"). When force is false and the
// path already exists, this fails rather than silently overwrite it
// (§4.D "Destination collision is checked via file existence").
func CreateDestination(path string, force bool) (*Destination, error) {
	flags := os.O_WRONLY | os.O_CREATE
	if force {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fvdeerrors.New(fvdeerrors.InvalidArgument, "destination already exists, use force to overwrite")
		}
		return nil, fvdeerrors.WithRegion(fvdeerrors.IoOpen, err, path, 0)
	}
	return &Destination{file: file, path: path}, nil
}

// Truncate sets the destination's size, used to create a sparse file of
// the full physical volume size before any region is written (§4.D).
func (d *Destination) Truncate(size int64) error {
	if err := d.file.Truncate(size); err != nil {
		return fvdeerrors.WithRegion(fvdeerrors.IoWrite, err, d.path, 0)
	}
	return nil
}

// WriteAt writes buf at offset off, treating a short write as fatal (§4.D
// "read/write short-counts are fatal").
func (d *Destination) WriteAt(buf []byte, off int64) error {
	n, err := d.file.WriteAt(buf, off)
	if err != nil {
		return fvdeerrors.WithRegion(fvdeerrors.IoWrite, err, d.path, off)
	}
	if n != len(buf) {
		return fvdeerrors.WithRegion(fvdeerrors.IoWrite, io.ErrShortWrite, d.path, off)
	}
	return nil
}

// Close closes the underlying file.
func (d *Destination) Close() error {
	if err := d.file.Close(); err != nil {
		return fvdeerrors.WithRegion(fvdeerrors.IoClose, err, d.path, 0)
	}
	return nil
}
