package http

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedFile is a read-only memory mapping of a whole file.
// Close releases the mapping once; later calls are no-ops.
type MappedFile struct {
	data []byte
	size int64
}

// MapFile maps path read-only. Empty files produce a MappedFile with no mapping.
func MapFile(path string) (*MappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	// the mapping outlives the descriptor
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return &MappedFile{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &MappedFile{data: data, size: info.Size()}, nil
}

// Bytes returns the mapped region; nil once closed
func (m *MappedFile) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Len returns the mapped length
func (m *MappedFile) Len() int64 {
	if m == nil {
		return 0
	}
	return m.size
}

// Close unmaps the region
func (m *MappedFile) Close() error {
	if m == nil || m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	m.size = 0
	return unix.Munmap(data)
}
