//go:build !unix

package precision

import (
	"io"
	"os"
)

// mmapReadOnly falls back to a plain read on platforms without a unix mmap
// syscall; the §6 contract only requires the bytes, not the mapping
// mechanism.
func mmapReadOnly(f *os.File, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
