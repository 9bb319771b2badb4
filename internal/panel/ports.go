package panel

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/benAliAlizadeh/mahsabot/internal/constants"
)

// PortAllocator hands out listen ports for dedicated inbounds from a
// file-backed counter. The file is flock-guarded so concurrent provisioners
// sharing the same state directory never hand out the same port twice.
type PortAllocator struct {
	path  string
	start int
	end   int
}

// NewPortAllocator creates an allocator persisting its counter at path
func NewPortAllocator(path string) *PortAllocator {
	return &PortAllocator{
		path:  path,
		start: constants.PortRangeStart,
		end:   constants.PortRangeEnd,
	}
}

// Next returns the next port in the range, wrapping around at the end
func (a *PortAllocator) Next() (int, error) {
	f, err := os.OpenFile(a.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open port counter: %w", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return 0, fmt.Errorf("lock port counter: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	buf := make([]byte, 16)
	n, _ := f.ReadAt(buf, 0)

	last, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil || last < a.start || last >= a.end {
		last = a.start - 1
	}
	next := last + 1

	if err := f.Truncate(0); err != nil {
		return 0, fmt.Errorf("truncate port counter: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(next)), 0); err != nil {
		return 0, fmt.Errorf("write port counter: %w", err)
	}
	return next, nil
}
