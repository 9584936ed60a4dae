package serialport

import (
	ioctl "github.com/daedaluz/goioctl"
	"golang.org/x/sys/unix"
	"unsafe"
)

// Winsize mirrors struct winsize from <termios.h>; only used by OpenPTY's
// test-loopback path, never by the production RFC 2217 device path.
type Winsize struct {
	Row    uint16
	Col    uint16
	Xpixel uint16
	Ypixel uint16
}

// SetLockPT arms or clears the kernel's PT lock (TIOCSPTLCK); a master must
// unlock its slave before the slave device node can be opened.
func (p *Port) SetLockPT(lock bool) error {
	var v int32
	if lock {
		v = 1
	}
	return ioctl.Ioctl(uintptr(p.f), tiocsptlck, uintptr(unsafe.Pointer(&v)))
}

// GetPTPeer opens the slave end of a /dev/ptmx master via TIOCGPTPEER.
// Unlike every other ioctl in this package, TIOCGPTPEER returns the new fd
// as the raw syscall result rather than through an output pointer, so it
// cannot go through goioctl.Ioctl (which only reports an error) and is
// issued directly via golang.org/x/sys/unix.
func (p *Port) GetPTPeer(flags int) (*Port, error) {
	r1, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.f), tiocgptpeer, uintptr(flags))
	if errno != 0 {
		return nil, errno
	}
	return &Port{f: int(r1)}, nil
}

// SetWinSize sets the pty's terminal window size (TIOCSWINSZ).
func (p *Port) SetWinSize(w *Winsize) error {
	return ioctl.Ioctl(uintptr(p.f), tiocswinsz, uintptr(unsafe.Pointer(w)))
}

// OpenPTY finds an available pseudoterminal and returns a master and slave
// port. If termp is non-nil, the slave port is configured with the given
// termios. If winp is non-nil, the slave port's window size is set. Used
// only by the test harness (§ test tooling): it gives the Adapter tests a
// real character device to drive without physical hardware.
func OpenPTY(termp *Termios, winp *Winsize) (*Port, *Port, error) {
	master, err := Open("/dev/ptmx", nil)
	if err != nil {
		return nil, nil, err
	}
	if err := master.SetLockPT(false); err != nil {
		master.Close()
		return nil, nil, err
	}
	slave, err := master.GetPTPeer(0)
	if err != nil {
		master.Close()
		return nil, nil, err
	}
	if termp != nil {
		if err := slave.SetAttr(TCSANOW, termp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}
	if winp != nil {
		if err := slave.SetWinSize(winp); err != nil {
			master.Close()
			slave.Close()
			return nil, nil, err
		}
	}

	return master, slave, nil
}
