//go:build !windows

package atomicio

import "os"

// renameOverwrite atomically replaces newpath with oldpath.
// POSIX rename(2) already overwrites the target atomically.
func renameOverwrite(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}
