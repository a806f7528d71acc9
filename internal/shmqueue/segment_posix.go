//go:build !windows

package shmqueue

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// segment is one mapping of a named shared-memory file. On POSIX hosts the
// name resolves to a file in the shm directory, which is what shm_open does.
type segment struct {
	data  []byte
	fd    int
	path  string
	owner bool
	dev   uint64
	ino   uint64
}

func segmentPath(o options) string {
	return filepath.Join(o.directory, o.name)
}

// createSegment always creates a fresh file. Taking over a name unlinks the
// old file first, so readers still mapping it keep a valid mapping of the old
// size instead of faulting on a truncated one.
func createSegment(o options, size int) (*segment, error) {
	path := segmentPath(o)

	if !o.exclusive {
		if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("unlink %s: %w", path, err)
		}
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o666)
	if err != nil {
		if errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentExists, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("truncate %s to %d: %w", path, size, err)
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		unix.Unlink(path)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	seg := &segment{data: data, fd: fd, path: path, owner: true}
	seg.identify()
	return seg, nil
}

// identify records the inode behind fd
func (s *segment) identify() {
	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err == nil {
		s.dev, s.ino = uint64(st.Dev), uint64(st.Ino)
	}
}

// replaced reports whether the name now points at another file, which
// happens when a new writer took the segment over. A name that is gone is
// not replaced.
func (s *segment) replaced() bool {
	var st unix.Stat_t
	if err := unix.Stat(s.path, &st); err != nil {
		return false
	}
	return uint64(st.Dev) != s.dev || uint64(st.Ino) != s.ino
}

func openSegment(o options) (*segment, error) {
	path := segmentPath(o)

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Size <= 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("segment %s is empty", path)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	seg := &segment{data: data, fd: fd, path: path}
	seg.dev, seg.ino = uint64(st.Dev), uint64(st.Ino)
	return seg, nil
}

// close unmaps and closes the segment. The writer also unlinks the name so
// that, as with a Windows named mapping, the segment disappears once every
// reader has let go of it. A name already taken over by another writer is
// left alone.
func (s *segment) close() error {
	var errs []error

	unlink := s.owner && !s.replaced()

	if s.data != nil {
		if err := unix.Munmap(s.data); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
		s.data = nil
	}
	if s.fd >= 0 {
		if err := unix.Close(s.fd); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		s.fd = -1
	}
	if unlink {
		if err := unix.Unlink(s.path); err != nil && !errors.Is(err, unix.ENOENT) {
			errs = append(errs, fmt.Errorf("unlink %s: %w", s.path, err))
		}
	}
	s.owner = false

	return errors.Join(errs...)
}
