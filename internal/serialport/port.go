package serialport

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/sercd-go/sercd/internal/cpc"
	"github.com/sercd-go/sercd/internal/lockfile"
)

// baudTable maps the common RFC 2217 baud rates to the termios CBAUD
// constants recognized by this kernel's tty layer (§4.2, §6: "a concrete,
// finite table of supported standard rates").
var baudTable = map[uint32]CFlag{
	50: B50, 75: B75, 110: B110, 134: B134, 150: B150, 200: B200, 300: B300,
	600: B600, 1200: B1200, 1800: B1800, 2400: B2400, 4800: B4800,
	9600: B9600, 19200: B19200, 38400: B38400, 57600: B57600,
	115200: B115200, 230400: B230400, 460800: B460800, 500000: B500000,
	576000: B576000, 921600: B921600, 1000000: B1000000, 1152000: B1152000,
	1500000: B1500000, 2000000: B2000000, 2500000: B2500000,
	3000000: B3000000, 3500000: B3500000, 4000000: B4000000,
}

var baudTableReverse = func() map[CFlag]uint32 {
	m := make(map[CFlag]uint32, len(baudTable))
	for rate, flag := range baudTable {
		m[flag] = rate
	}
	return m
}()

const defaultBaudRate uint32 = 9600

// Adapter wraps a raw serialport.Port with the cpc.Adapter contract (§4.2,
// §4.5), translating RFC 2217 COM-PORT parameters to termios/ioctl calls
// the way sercd's unix.c companion functions do.
type Adapter struct {
	port       *Port
	deviceName string
	log        *zap.SugaredLogger
	saved      *Termios
	lock       *lockfile.Lock
}

var _ cpc.Adapter = (*Adapter)(nil)

// Open2217 acquires the HDB lock at lockPath, opens device non-blocking, saves
// its current termios, and switches it to raw mode with HUPCL|CLOCAL and
// BRKINT the way a dial-out serial server needs (§4.2). The saved termios
// is restored by Close.
func Open2217(device, lockPath string, log *zap.SugaredLogger) (*Adapter, error) {
	lock, err := lockfile.Acquire(lockPath, log)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}

	port, err := Open(device, NewOptions())
	if err != nil {
		lock.Release()
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := unix.SetNonblock(port.Fd(), true); err != nil {
		port.Close()
		lock.Release()
		return nil, fmt.Errorf("set nonblocking %s: %w", device, err)
	}

	saved, err := port.GetAttr()
	if err != nil {
		port.Close()
		lock.Release()
		return nil, fmt.Errorf("get attr %s: %w", device, err)
	}

	raw := *saved
	raw.MakeRaw()
	raw.Cflag |= HUPCL | CLOCAL
	raw.Iflag |= BRKINT
	raw.Cflag &= ^CBAUD
	raw.Cflag |= B9600
	if err := port.SetAttr(TCSANOW, &raw); err != nil {
		port.Close()
		lock.Release()
		return nil, fmt.Errorf("set attr %s: %w", device, err)
	}

	return &Adapter{port: port, deviceName: device, log: log, saved: saved, lock: lock}, nil
}

func (a *Adapter) warnf(format string, args ...any) {
	if a.log != nil {
		a.log.Warnf(format, args...)
	}
}

// Close restores the termios saved at Open2217 time, closes the device,
// and releases the HDB lock — a strict acquire/release bracket (§5).
func (a *Adapter) Close() error {
	setErr := a.port.SetAttr(TCSANOW, a.saved)
	closeErr := a.port.Close()
	unlockErr := a.lock.Release()
	if setErr != nil {
		return fmt.Errorf("restore attr: %w", setErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close device: %w", closeErr)
	}
	if unlockErr != nil {
		return fmt.Errorf("release lock: %w", unlockErr)
	}
	return nil
}

func (a *Adapter) Fd() int { return a.port.Fd() }
func (a *Adapter) Read(p []byte) (int, error) { return a.port.Read(p) }
func (a *Adapter) Write(p []byte) (int, error) { return a.port.Write(p) }

func (a *Adapter) DeviceName() string { return a.deviceName }

func (a *Adapter) SetBaudRate(rate uint32) error {
	flag, ok := baudTable[rate]
	if !ok {
		a.warnf("unsupported baud rate %d requested, falling back to %d", rate, defaultBaudRate)
		flag = baudTable[defaultBaudRate]
	}
	attrs, err := a.port.GetAttr()
	if err != nil {
		return err
	}
	attrs.SetSpeed(flag)
	return a.port.SetAttr(TCSANOW, attrs)
}

func (a *Adapter) BaudRate() (uint32, error) {
	attrs, err := a.port.GetAttr()
	if err != nil {
		return 0, err
	}
	rate, ok := baudTableReverse[attrs.Cflag&CBAUD]
	if !ok {
		return defaultBaudRate, nil
	}
	return rate, nil
}

func (a *Adapter) SetDataSize(bits byte) error {
	var flag CFlag
	switch bits {
	case 5:
		flag = CS5
	case 6:
		flag = CS6
	case 7:
		flag = CS7
	case 8:
		flag = CS8
	default:
		a.warnf("unsupported data size %d requested, falling back to 8", bits)
		flag = CS8
	}
	attrs, err := a.port.GetAttr()
	if err != nil {
		return err
	}
	attrs.Cflag &= ^CSIZE
	attrs.Cflag |= flag
	return a.port.SetAttr(TCSANOW, attrs)
}

func (a *Adapter) DataSize() (byte, error) {
	attrs, err := a.port.GetAttr()
	if err != nil {
		return 0, err
	}
	switch attrs.Cflag & CSIZE {
	case CS5:
		return 5, nil
	case CS6:
		return 6, nil
	case CS7:
		return 7, nil
	default:
		return 8, nil
	}
}

// RFC 2217 SET-PARITY values.
const (
	parityNone  byte = 1
	parityOdd   byte = 2
	parityEven  byte = 3
	parityMark  byte = 4
	paritySpace byte = 5
)

func (a *Adapter) SetParity(code byte) error {
	attrs, err := a.port.GetAttr()
	if err != nil {
		return err
	}
	switch code {
	case parityNone:
		attrs.Cflag &= ^(PARENB | PARODD)
	case parityOdd:
		attrs.Cflag |= PARENB | PARODD
	case parityEven:
		attrs.Cflag |= PARENB
		attrs.Cflag &= ^PARODD
	default:
		a.warnf("unsupported parity %d requested, falling back to none", code)
		attrs.Cflag &= ^(PARENB | PARODD)
	}
	return a.port.SetAttr(TCSANOW, attrs)
}

func (a *Adapter) Parity() (byte, error) {
	attrs, err := a.port.GetAttr()
	if err != nil {
		return 0, err
	}
	if attrs.Cflag&PARENB == 0 {
		return parityNone, nil
	}
	if attrs.Cflag&PARODD != 0 {
		return parityOdd, nil
	}
	return parityEven, nil
}

// RFC 2217 SET-STOPSIZE values.
const (
	stopOne     byte = 1
	stopTwo     byte = 2
	stopOneHalf byte = 3
)

func (a *Adapter) SetStopSize(code byte) error {
	attrs, err := a.port.GetAttr()
	if err != nil {
		return err
	}
	switch code {
	case stopOne:
		attrs.Cflag &= ^CSTOPB
	case stopTwo:
		attrs.Cflag |= CSTOPB
	case stopOneHalf:
		a.warnf("1.5 stop bits is not representable by termios, falling back to 1")
		attrs.Cflag &= ^CSTOPB
	default:
		a.warnf("unsupported stop size %d requested, falling back to 1", code)
		attrs.Cflag &= ^CSTOPB
	}
	return a.port.SetAttr(TCSANOW, attrs)
}

func (a *Adapter) StopSize() (byte, error) {
	attrs, err := a.port.GetAttr()
	if err != nil {
		return 0, err
	}
	if attrs.Cflag&CSTOPB != 0 {
		return stopTwo, nil
	}
	return stopOne, nil
}

// SET_CONTROL selector codes the adapter understands directly, beyond the
// pure-query codes the cpc.Handler already special-cases (§4.5, unix.c's
// SetPortFlowControl/GetPortFlowControl).
const (
	flowSetNone     byte = 1
	flowSetXonXoff  byte = 2
	flowSetHardware byte = 3
	flowDTROn       byte = 8
	flowDTROff      byte = 9
	flowRTSOn       byte = 11
	flowRTSOff      byte = 12
)

func (a *Adapter) SetFlowControl(selector byte) error {
	switch selector {
	case flowSetNone:
		attrs, err := a.port.GetAttr()
		if err != nil {
			return err
		}
		attrs.Iflag &= ^(IXON | IXOFF)
		attrs.Cflag &= ^CRTSCTS
		return a.port.SetAttr(TCSANOW, attrs)
	case flowSetXonXoff:
		attrs, err := a.port.GetAttr()
		if err != nil {
			return err
		}
		attrs.Iflag |= IXON | IXOFF
		attrs.Cflag &= ^CRTSCTS
		return a.port.SetAttr(TCSANOW, attrs)
	case flowSetHardware:
		attrs, err := a.port.GetAttr()
		if err != nil {
			return err
		}
		attrs.Iflag &= ^(IXON | IXOFF)
		attrs.Cflag |= CRTSCTS
		return a.port.SetAttr(TCSANOW, attrs)
	case flowDTROn:
		return a.port.EnableModemLines(TIOCM_DTR)
	case flowDTROff:
		return a.port.DisableModemLines(TIOCM_DTR)
	case flowRTSOn:
		return a.port.EnableModemLines(TIOCM_RTS)
	case flowRTSOff:
		return a.port.DisableModemLines(TIOCM_RTS)
	case 14, 15, 16:
		// Inbound-specific flow control: Linux termios has no direction-
		// independent knob for this, matching unix.c's own "ignored" path.
		a.warnf("inbound flow control selector %d is not separately supported, ignoring", selector)
		return nil
	default:
		a.warnf("unsupported SET_CONTROL selector %d, ignoring", selector)
		return nil
	}
}

func (a *Adapter) FlowControl(selector byte) (byte, error) {
	switch selector {
	case 0, 13:
		attrs, err := a.port.GetAttr()
		if err != nil {
			return 0, err
		}
		base := byte(1)
		if attrs.Cflag&CRTSCTS != 0 {
			base = 3
		} else if attrs.Iflag&(IXON|IXOFF) != 0 {
			base = 2
		}
		if selector == 13 {
			return base + 13, nil
		}
		return base, nil
	case 4:
		return 6, nil // break-query: the handler tracks BreakSignaled itself
	case 7:
		lines, err := a.port.GetModemLines()
		if err != nil {
			return 0, err
		}
		if lines&TIOCM_DTR != 0 {
			return flowDTROn, nil
		}
		return flowDTROff, nil
	case 10:
		lines, err := a.port.GetModemLines()
		if err != nil {
			return 0, err
		}
		if lines&TIOCM_RTS != 0 {
			return flowRTSOn, nil
		}
		return flowRTSOff, nil
	default:
		return 0, fmt.Errorf("unsupported flow control query selector %d", selector)
	}
}

func (a *Adapter) SetBreak(on bool) error {
	if on {
		return a.port.SetBreak()
	}
	return a.port.ClearBreak()
}

// Purge selectors per RFC 2217: 1 = input, 2 = output, 3 = both.
func (a *Adapter) Purge(selector byte) error {
	switch selector {
	case 1:
		return a.port.Flush(TCIFLUSH)
	case 2:
		return a.port.Flush(TCOFLUSH)
	case 3:
		return a.port.Flush(TCIOFLUSH)
	default:
		return fmt.Errorf("unsupported purge selector %d", selector)
	}
}

// ModemState composes the 8-bit modem-status byte (§4.2, §6 GLOSSARY): bits
// 7..4 are the current DCD/RI/DSR/CTS levels, bits 3..0 report whether each
// one flipped since prev.
func (a *Adapter) ModemState(prev byte) (byte, error) {
	lines, err := a.port.GetModemLines()
	if err != nil {
		return 0, err
	}
	var cur byte
	if lines&TIOCM_CAR != 0 {
		cur |= 1 << 7
	}
	if lines&TIOCM_RNG != 0 {
		cur |= 1 << 6
	}
	if lines&TIOCM_DSR != 0 {
		cur |= 1 << 5
	}
	if lines&TIOCM_CTS != 0 {
		cur |= 1 << 4
	}
	delta := (cur ^ prev) >> 4
	return cur | delta, nil
}
