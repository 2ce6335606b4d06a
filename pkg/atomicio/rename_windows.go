//go:build windows

package atomicio

import "golang.org/x/sys/windows"

// renameOverwrite atomically replaces newpath with oldpath.
// os.Rename fails on Windows when the target exists, so use MoveFileEx with
// MOVEFILE_REPLACE_EXISTING; with MOVEFILE_WRITE_THROUGH the move is flushed
// before returning.
func renameOverwrite(oldpath, newpath string) error {
	from, err := windows.UTF16PtrFromString(oldpath)
	if err != nil {
		return err
	}
	to, err := windows.UTF16PtrFromString(newpath)
	if err != nil {
		return err
	}
	return windows.MoveFileEx(from, to, windows.MOVEFILE_REPLACE_EXISTING|windows.MOVEFILE_WRITE_THROUGH)
}
