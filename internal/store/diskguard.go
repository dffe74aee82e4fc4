package store

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"
)

// minFreeSpaceAbsolute is the floor of the "4 GiB or 5% of the volume,
// whichever is smaller" free-space guard. humanize.GByte is the 1024-based
// gibibyte despite its SI-looking name (go-humanize's Bytes/IBytes split
// covers formatting, not these constants).
const minFreeSpaceAbsolute = 4 * humanize.GByte

// checkFreeSpace statfs's the project's volume and returns an error if
// free space is below the guard threshold, so a body write is refused
// before it can leave a half-written file for a later crash to trip over.
func (s *Store) checkFreeSpace() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(s.dir, &stat); err != nil {
		return fmt.Errorf("statfs: %w", err)
	}

	free := stat.Bavail * uint64(stat.Bsize)
	total := stat.Blocks * uint64(stat.Bsize)

	threshold := uint64(minFreeSpaceAbsolute)
	fivePercent := total / 20
	if fivePercent < threshold {
		threshold = fivePercent
	}

	if free < threshold {
		return fmt.Errorf("%w: %s free, need at least %s", ErrDiskFull,
			humanize.Bytes(free), humanize.Bytes(threshold))
	}
	return nil
}
