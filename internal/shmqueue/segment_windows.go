//go:build windows

package shmqueue

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileMappingW = modkernel32.NewProc("OpenFileMappingW")
)

// segment is one view of a pagefile-backed named file mapping
type segment struct {
	data   []byte
	handle windows.Handle
	addr   uintptr
}

func openFileMapping(access uint32, name string) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	r, _, e := procOpenFileMappingW.Call(uintptr(access), 0, uintptr(unsafe.Pointer(p)))
	if r == 0 {
		return 0, e
	}
	return windows.Handle(r), nil
}

func createSegment(o options, size int) (*segment, error) {
	if o.exclusive {
		if h, err := openFileMapping(windows.FILE_MAP_READ, o.name); err == nil {
			windows.CloseHandle(h)
			return nil, fmt.Errorf("%w: %s", ErrSegmentExists, o.name)
		}
	}

	name, err := windows.UTF16PtrFromString(o.name)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, uint32(size), name)
	if err != nil {
		return nil, fmt.Errorf("CreateFileMapping: %w", err)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, 0)
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("MapViewOfFile: %w", err)
	}

	// An existing mapping of the same name is returned as is, whatever size
	// was asked for.
	var info windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
		windows.UnmapViewOfFile(addr)
		windows.CloseHandle(h)
		return nil, fmt.Errorf("VirtualQuery: %w", err)
	}
	if int(info.RegionSize) < size {
		windows.UnmapViewOfFile(addr)
		windows.CloseHandle(h)
		return nil, fmt.Errorf("%w: %s is %d bytes, %d needed", ErrSegmentTooSmall, o.name, info.RegionSize, size)
	}

	return &segment{
		data:   unsafe.Slice((*byte)(unsafe.Pointer(addr)), size),
		handle: h,
		addr:   addr,
	}, nil
}

func openSegment(o options) (*segment, error) {
	h, err := openFileMapping(windows.FILE_MAP_READ, o.name)
	if err != nil {
		return nil, fmt.Errorf("OpenFileMapping: %w", err)
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, 0, 0, 0)
	if err != nil {
		windows.CloseHandle(h)
		return nil, fmt.Errorf("MapViewOfFile: %w", err)
	}

	var info windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &info, unsafe.Sizeof(info)); err != nil {
		windows.UnmapViewOfFile(addr)
		windows.CloseHandle(h)
		return nil, fmt.Errorf("VirtualQuery: %w", err)
	}

	return &segment{
		data:   unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(info.RegionSize)),
		handle: h,
		addr:   addr,
	}, nil
}

// replaced is always false: a named mapping cannot be swapped while a view
// of it is open
func (s *segment) replaced() bool {
	return false
}

func (s *segment) close() error {
	var errs []error

	if s.addr != 0 {
		if err := windows.UnmapViewOfFile(s.addr); err != nil {
			errs = append(errs, fmt.Errorf("UnmapViewOfFile: %w", err))
		}
		s.addr = 0
		s.data = nil
	}
	if s.handle != 0 {
		if err := windows.CloseHandle(s.handle); err != nil {
			errs = append(errs, fmt.Errorf("CloseHandle: %w", err))
		}
		s.handle = 0
	}

	return errors.Join(errs...)
}
