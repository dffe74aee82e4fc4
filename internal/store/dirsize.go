package store

import (
	"io/fs"
	"os"
	"path/filepath"
)

// dirSize returns the total size in bytes of path: the size of the file
// itself if path is a regular file, or the sum of every regular file under
// it if path is a directory. A missing path is treated as zero bytes,
// since a project with no revisions yet has no revisions/ directory.
func dirSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
