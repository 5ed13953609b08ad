//go:build !windows

package output

import (
	"syscall"
	"unsafe"
)

// winsize mirrors the kernel struct filled in by TIOCGWINSZ.
type winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// consoleWidth asks the tty for its column count, returning 0 when
// stdout is not a terminal.
func consoleWidth() int {
	ws := &winsize{}
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL,
		uintptr(syscall.Stdout),
		uintptr(syscall.TIOCGWINSZ),
		uintptr(unsafe.Pointer(ws)))
	if errno != 0 {
		return 0
	}
	return int(ws.Col)
}
