package serialport

import (
	ioctl "github.com/daedaluz/goioctl"
	"unsafe"
)

var (
	tcgets = uintptr(0x5401)
	tcsets = uintptr(0x5402)

	tiocsbrk = uintptr(0x5427)
	tioccbrk = uintptr(0x5428)

	tcflsh = uintptr(0x540B)

	tiocmget = uintptr(0x5415) // get status
	tiocmbis = uintptr(0x5416) // set indicated bits
	tiocmbic = uintptr(0x5417) // clear indicated bits

	tiocswinsz = uintptr(0x5414)

	tiocsptlck  = ioctl.IOW('T', 0x31, unsafe.Sizeof(int32(0)))
	tiocgptpeer = ioctl.IO('T', 0x41)
)
