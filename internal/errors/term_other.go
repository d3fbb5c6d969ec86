//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !windows

package errors

import "os"

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
