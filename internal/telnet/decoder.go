package telnet

// CommandKind discriminates the values the decoder hands to a Handler.
type CommandKind int

const (
	// KindNegotiation is a 3-byte IAC,{WILL,WONT,DO,DONT},option sequence.
	KindNegotiation CommandKind = iota
	// KindSuboption is a complete IAC,SB,option,subcommand,...,IAC,SE frame.
	KindSuboption
)

// Command is a decoded framed command (§3 TelnetCommand, minus AppByte:
// application bytes are pushed straight to the device buffer by Decode and
// never allocate a Command).
type Command struct {
	Kind       CommandKind
	NegCommand byte // WILL/WONT/DO/DONT, when Kind == KindNegotiation
	Option     byte
	Subcommand byte   // valid when Kind == KindSuboption
	Payload    []byte // subcommand parameter bytes, already de-escaped
}

// Handler receives framed commands as the decoder completes them.
type Handler interface {
	HandleCommand(cmd Command)
}

// maxCmdBuf bounds the decoder's internal command buffer. It must hold the
// largest possible framed command: a SIGNATURE subnegotiation with a full
// 255-byte payload plus its 6 bytes of framing.
const maxCmdBuf = 4 + maxSignatureLen + 2

type decState int

const (
	decNormal decState = iota
	decIacSeen
	decComReceiving
)

// Decoder is the byte-at-a-time telnet/IAC + RFC 2217 state machine (§4.4).
// It is total: every input byte leaves it in a valid state, and bytes past
// the cmd_buf capacity are dropped from the payload without breaking the
// state machine's progress (§8 "Decoder is total").
type Decoder struct {
	state         decState
	cmdBuf        [maxCmdBuf]byte
	pos           int
	sigIacPending bool // inner escape flag, meaningful only while decoding a SIGNATURE payload
	lastOut       byte
}

// Decode consumes one inbound byte, pushing application bytes to toDev and
// delivering completed framed commands to handler. table is consulted only
// to read the our-side TRANSMIT_BINARY posture for the CR-NUL collapse
// rule; Decode never mutates it directly (Handler implementations do, via
// the option-negotiation logic in §4.5).
func (d *Decoder) Decode(b byte, toDev Sink, table *OptionTable, handler Handler) {
	switch d.state {
	case decNormal:
		d.decodeNormal(b, toDev, table)
	case decIacSeen:
		d.decodeIacSeen(b, toDev)
	case decComReceiving:
		d.decodeComReceiving(b, handler)
	}
	d.lastOut = b
}

func (d *Decoder) decodeNormal(b byte, toDev Sink, table *OptionTable) {
	if b == IAC {
		d.state = decIacSeen
		return
	}
	binaryOurSideIn := table.Get(OptTransmitBinary).IsDo
	if !binaryOurSideIn && d.lastOut == 0x0D && b == 0x00 {
		return // CR-NUL collapse: the CR was already emitted, swallow the NUL
	}
	toDev.Push(b)
}

func (d *Decoder) decodeIacSeen(b byte, toDev Sink) {
	if b == IAC {
		// Escaped literal IAC byte in the data stream.
		toDev.Push(IAC)
		d.state = decNormal
		return
	}
	d.cmdBuf[0] = IAC
	d.cmdBuf[1] = b
	d.pos = 2
	d.sigIacPending = false
	d.state = decComReceiving
}

func (d *Decoder) decodeComReceiving(b byte, handler Handler) {
	if d.cmdBuf[1] != SB {
		d.appendRaw(b)
		if d.pos == 3 {
			d.dispatch(handler)
			d.state = decNormal
		}
		return
	}

	// Subnegotiation: gather option + subcommand header first.
	if d.pos < 4 {
		d.appendRaw(b)
		return
	}

	switch d.cmdBuf[3] {
	case CPCSignature:
		d.decodeSignatureByte(b, handler)
	case CPCSetBaudrate:
		d.appendRaw(b)
		if d.pos == 10 {
			d.dispatch(handler)
			d.state = decNormal
		}
	case CPCFlowcontrolSuspend, CPCFlowcontrolResume:
		d.appendRaw(b)
		if d.pos == 6 {
			d.dispatch(handler)
			d.state = decNormal
		}
	default:
		d.appendRaw(b)
		if d.pos == 7 {
			d.dispatch(handler)
			d.state = decNormal
		}
	}
}

// decodeSignatureByte runs the inner IAC-escape detector used only while
// inside a SIGNATURE payload, so a signature string may itself contain a
// literal 0xFF (escaped as IAC,IAC) without ending the subnegotiation.
func (d *Decoder) decodeSignatureByte(b byte, handler Handler) {
	if !d.sigIacPending {
		if b == IAC {
			d.sigIacPending = true
			return
		}
		d.appendRaw(b)
		return
	}

	// A lone IAC was pending.
	if b == IAC {
		d.appendRaw(b) // IAC,IAC -> keep one literal IAC in the payload
		d.sigIacPending = false
		return
	}
	// IAC,SE (or, defensively, IAC,<anything else>) terminates the frame.
	d.appendRaw(IAC)
	d.appendRaw(b)
	d.dispatch(handler)
	d.state = decNormal
}

// appendRaw stores b in cmd_buf if there is room; bytes past capacity are
// dropped, matching §8's invariant that IacPos never exceeds the buffer.
func (d *Decoder) appendRaw(b byte) {
	if d.pos < len(d.cmdBuf) {
		d.cmdBuf[d.pos] = b
	}
	d.pos++
}

func (d *Decoder) dispatch(handler Handler) {
	if handler == nil {
		return
	}
	if d.cmdBuf[1] != SB {
		handler.HandleCommand(Command{
			Kind:       KindNegotiation,
			NegCommand: d.cmdBuf[1],
			Option:     d.cmdBuf[2],
		})
		return
	}

	option := d.cmdBuf[2]
	subcmd := d.cmdBuf[3]
	end := d.pos
	if end > len(d.cmdBuf) {
		end = len(d.cmdBuf)
	}
	var payload []byte
	switch subcmd {
	case CPCSignature:
		if end >= 6 {
			payload = append([]byte(nil), d.cmdBuf[4:end-2]...)
		}
	case CPCSetBaudrate:
		payload = append([]byte(nil), d.cmdBuf[4:8]...)
	case CPCFlowcontrolSuspend, CPCFlowcontrolResume:
		// no parameter bytes
	default:
		if end >= 6 {
			payload = append([]byte(nil), d.cmdBuf[4:5]...)
		}
	}

	handler.HandleCommand(Command{
		Kind:       KindSuboption,
		Option:     option,
		Subcommand: subcmd,
		Payload:    payload,
	})
}
