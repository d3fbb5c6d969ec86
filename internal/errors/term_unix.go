//go:build linux || darwin || freebsd || netbsd || openbsd

package errors

import (
	"os"

	"golang.org/x/sys/unix"
)

// isTerminal 能取到窗口大小即视为终端
func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetWinsize(int(f.Fd()), unix.TIOCGWINSZ)
	return err == nil
}
