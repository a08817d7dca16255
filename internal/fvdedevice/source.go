// Package fvdedevice implements the read-only source and write-only
// destination abstractions described in spec §5/§6.2. It is adapted from
// the teacher's internal/device.DMGDevice: open, stat, and expose a
// block-addressable, read-only view over either a regular file or a block
// device, now keyed by physical-volume index instead of a single DMG
// offset (a Core Storage volume group may have more than one pv).
package fvdedevice

import (
	"io"
	"os"
	"sync"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// Source is a seekable, read-only view of one physical volume's backing
// file or block device, opened at a fixed byte offset (the volume offset
// for partitioned sources, §6.2).
type Source struct {
	file         *os.File
	path         string
	volumeOffset int64

	mu sync.Mutex
}

// OpenSource opens path read-only. volumeOffset is the byte offset of the
// Core Storage volume header within the file (nonzero for partitioned
// sources).
func OpenSource(path string, volumeOffset int64) (*Source, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fvdeerrors.WithRegion(fvdeerrors.IoOpen, err, path, 0)
	}
	return &Source{file: file, path: path, volumeOffset: volumeOffset}, nil
}

// Path returns the path the source was opened from.
func (s *Source) Path() string { return s.path }

// VolumeOffset returns the configured byte offset within the backing file.
func (s *Source) VolumeOffset() int64 { return s.volumeOffset }

// ReadAt reads len(buf) bytes starting at volume-relative offset off. A
// short read is treated as fatal per §4.D ("read/write short-counts are
// fatal").
func (s *Source) ReadAt(buf []byte, off int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.file.ReadAt(buf, s.volumeOffset+off)
	if err != nil && err != io.EOF {
		return fvdeerrors.WithRegion(fvdeerrors.IoRead, err, s.path, off)
	}
	if n != len(buf) {
		return fvdeerrors.WithRegion(fvdeerrors.IoRead, io.ErrShortBuffer, s.path, off)
	}
	return nil
}

// Close closes the underlying file.
func (s *Source) Close() error {
	if err := s.file.Close(); err != nil {
		return fvdeerrors.WithRegion(fvdeerrors.IoClose, err, s.path, 0)
	}
	return nil
}

// SourcePool indexes an open Source per physical-volume index, modeling
// the "file-IO pool indexed by physical-volume index" of §5. Most Core
// Storage volume groups have a single physical volume and therefore a
// pool of size one, but the contract allows more.
type SourcePool struct {
	mu      sync.Mutex
	sources map[int]*Source
}

// NewSourcePool creates an empty pool.
func NewSourcePool() *SourcePool {
	return &SourcePool{sources: make(map[int]*Source)}
}

// Put registers src under physical-volume index pv, closing and replacing
// any source already registered there.
func (p *SourcePool) Put(pv int, src *Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sources[pv]; ok {
		existing.Close()
	}
	p.sources[pv] = src
}

// Get returns the source registered for pv, or an InvalidArgument error if
// none was registered.
func (p *SourcePool) Get(pv int) (*Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.sources[pv]
	if !ok {
		return nil, fvdeerrors.New(fvdeerrors.InvalidArgument, "no source registered for physical volume index")
	}
	return src, nil
}

// CloseAll closes every registered source, collecting (not stopping on)
// individual close errors.
func (p *SourcePool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, src := range p.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
