//go:build unix

package precision

import (
	"os"
	"syscall"
)

// mmapReadOnly memory-maps f's first n bytes read-only, the §6 contract
// for File-mapped init-ops. The mapping is copied into a owned byte slice
// immediately and unmapped, since Buffer's lifetime (process-wide, never
// freed mid-session per §3) outlives any reasonable mmap scope discipline
// we could otherwise guarantee here.
func mmapReadOnly(f *os.File, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, n, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	defer syscall.Munmap(data)
	owned := make([]byte, n)
	copy(owned, data)
	return owned, nil
}
