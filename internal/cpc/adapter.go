// Package cpc implements the option and RFC 2217 COM-PORT Control (CPC)
// suboption handler (§4.5): WILL/DO/WONT/DONT policy and CPC subcommand
// dispatch, replying through the telnet encoder onto the network buffer.
package cpc

// Adapter is the serial driver capability bundle the handler drives (§4.2,
// §6). It is implemented by internal/serialport.Adapter; the handler never
// reaches into termios/ioctl details directly.
type Adapter interface {
	// SetBaudRate applies rate, or selects the nearest safe default
	// (9600) with a WARNING if rate is unsupported.
	SetBaudRate(rate uint32) error
	// BaudRate returns the rate actually in effect now.
	BaudRate() (uint32, error)

	SetDataSize(bits byte) error
	DataSize() (bits byte, err error)

	// SetParity accepts RFC 2217 codes 1..5; unsupported codes (4, 5:
	// mark/space) fall back to "none" with a WARNING, per §4.5.
	SetParity(code byte) error
	Parity() (code byte, err error)

	// SetStopSize accepts 1/2/3 (1.5 stop bits downgrades to 1 with a
	// WARNING).
	SetStopSize(code byte) error
	StopSize() (code byte, err error)

	// SetFlowControl applies an RFC 2217 SET_CONTROL selector (1/2/3,
	// 8/9 DTR, 11/12 RTS, 14/15/16 inbound-ignored).
	SetFlowControl(selector byte) error
	// FlowControl reports the composite status for the given query
	// selector (0/4/7/10/13), matching the adapter's GetPortFlowControl
	// contract.
	FlowControl(selector byte) (byte, error)

	SetBreak(on bool) error

	// Purge flushes queue(s) per selector 1 (input) / 2 (output) / 3 (both).
	Purge(selector byte) error

	// ModemState returns the composite modem-status byte: bits 7..4 are
	// the current DCD/RNG/DSR/CTS levels, bits 3..0 are "changed since
	// prev" deltas (§4.2, §6 GLOSSARY).
	ModemState(prev byte) (byte, error)

	// DeviceName is the configured device path, used in the signature
	// string reply.
	DeviceName() string
}
