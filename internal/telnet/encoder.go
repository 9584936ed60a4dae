package telnet

// Sink is the minimal write surface the encoder needs: anything that can
// accept bytes it has already checked room for. *ringbuf.Buffer satisfies
// it via its Push/PushSlice methods having this same shape.
type Sink interface {
	Push(b byte)
	PushSlice(p []byte)
}

// Encoder holds the one byte of state (§3 EncoderState) needed to mirror
// CR-NUL insertion on outbound application data when our side has not
// negotiated TRANSMIT_BINARY.
type Encoder struct {
	lastIn byte
}

// WriteAppByte encodes one device-originated byte onto dst per §4.3:
//   - IAC (0xFF) is doubled.
//   - CR not followed by LF, with binary mode not active on our side, is
//     followed by a NUL (RFC 854's CR-NUL rule).
//   - Everything else passes through unchanged.
//
// binaryOurSide reports whether TRANSMIT_BINARY is currently in force for
// this (device->client) direction.
func (e *Encoder) WriteAppByte(dst Sink, b byte, binaryOurSide bool) {
	switch {
	case b == IAC:
		dst.Push(IAC)
		dst.Push(IAC)
	case !binaryOurSide && e.lastIn == 0x0D && b != 0x0A:
		dst.Push(0x00)
		dst.Push(b)
	default:
		dst.Push(b)
	}
	e.lastIn = b
}

// SendOption writes a 3-byte IAC,cmd,opt negotiation and records the
// matching sent_* flag on the table so re-entrant negotiation is
// suppressed until the peer replies.
func SendOption(dst Sink, table *OptionTable, cmd, opt byte) {
	dst.Push(IAC)
	dst.Push(cmd)
	dst.Push(opt)

	s := table.Get(opt)
	switch cmd {
	case WILL:
		s.SentWill = true
	case WONT:
		s.SentWont = true
	case DO:
		s.SentDo = true
	case DONT:
		s.SentDont = true
	}
	table.Set(opt, s)
}

// pushEscaped writes b to dst, doubling it if it equals IAC. Used for
// subnegotiation payload bytes that must escape a literal 0xFF.
func pushEscaped(dst Sink, b byte) {
	if b == IAC {
		dst.Push(IAC)
		dst.Push(IAC)
		return
	}
	dst.Push(b)
}

func sbHeader(dst Sink, subcmd byte) {
	dst.Push(IAC)
	dst.Push(SB)
	dst.Push(OptComPort)
	dst.Push(subcmd)
}

func sbTrailer(dst Sink) {
	dst.Push(IAC)
	dst.Push(SE)
}

// SendSignature emits the server's signature string as a SIGNATURE reply
// (subcmd 100), escaping any embedded IAC bytes. sig is truncated to 255
// bytes first (§4.5: "limited to 255 bytes").
func SendSignature(dst Sink, sig string) {
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}
	sbHeader(dst, CPCSignature+ReplyOffset)
	for i := 0; i < len(sig); i++ {
		pushEscaped(dst, sig[i])
	}
	sbTrailer(dst)
}

// SendBaudRate emits a SET_BAUDRATE reply (subcmd 101) carrying the actual
// 32-bit big-endian rate now in effect, with IAC-escaping per payload byte.
func SendBaudRate(dst Sink, rate uint32) {
	sbHeader(dst, CPCSetBaudrate+ReplyOffset)
	pushEscaped(dst, byte(rate>>24))
	pushEscaped(dst, byte(rate>>16))
	pushEscaped(dst, byte(rate>>8))
	pushEscaped(dst, byte(rate))
	sbTrailer(dst)
}

// SendCPCByteCommand emits a single-byte-parameter CPC reply: subcmd is
// already the reply code (client code + ReplyOffset), value is escaped.
func SendCPCByteCommand(dst Sink, subcmd, value byte) {
	sbHeader(dst, subcmd)
	pushEscaped(dst, value)
	sbTrailer(dst)
}

// SendModemStateNotify emits an unsolicited NOTIFY_MODEMSTATE (subcmd 107)
// carrying the masked modem-state byte, per §4.6 step 5.
func SendModemStateNotify(dst Sink, maskedState byte) {
	SendCPCByteCommand(dst, CPCNotifyModemstate+ReplyOffset, maskedState)
}
