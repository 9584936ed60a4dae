package telnet

import (
	"bytes"
	"testing"

	"github.com/sercd-go/sercd/internal/ringbuf"
)

type recordingHandler struct {
	commands []Command
}

func (h *recordingHandler) HandleCommand(cmd Command) {
	h.commands = append(h.commands, cmd)
}

func decodeAll(t *testing.T, d *Decoder, table *OptionTable, h Handler, toDev *ringbuf.Buffer, input []byte) {
	t.Helper()
	for _, b := range input {
		d.Decode(b, toDev, table, h)
	}
}

func TestIACIdempotence(t *testing.T) {
	var enc Encoder
	out := ringbuf.New(16)
	enc.WriteAppByte(out, 0xFF, true)

	var dec Decoder
	var table OptionTable
	table.Set(OptTransmitBinary, OptionState{IsDo: true})
	dev := ringbuf.New(16)
	var h recordingHandler
	for !out.Empty() {
		dec.Decode(out.Pop(), dev, &table, &h)
	}
	if dev.Len() != 1 || dev.Pop() != 0xFF {
		t.Fatalf("expected single 0xFF to round-trip through the decoder")
	}
}

func TestCRNulLawNonBinary(t *testing.T) {
	var enc Encoder
	out := ringbuf.New(16)
	enc.WriteAppByte(out, 0x0D, false)
	enc.WriteAppByte(out, 'X', false)

	want := []byte{0x0D, 0x00, 'X'}
	var got []byte
	for !out.Empty() {
		got = append(got, out.Pop())
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("encoded = %v, want %v", got, want)
	}

	var dec Decoder
	var table OptionTable // IsDo defaults false: binary not active
	dev := ringbuf.New(16)
	var h recordingHandler
	for _, b := range want {
		dec.Decode(b, dev, &table, &h)
	}
	var decoded []byte
	for !dev.Empty() {
		decoded = append(decoded, dev.Pop())
	}
	if !bytes.Equal(decoded, []byte{0x0D, 'X'}) {
		t.Fatalf("decoded = %v, want [0D 58]", decoded)
	}
}

func TestIACInData(t *testing.T) {
	var dec Decoder
	var table OptionTable
	dev := ringbuf.New(32)
	var h recordingHandler
	input := []byte{'A', 0xFF, 0xFF, 'B'}
	for _, b := range input {
		dec.Decode(b, dev, &table, &h)
	}
	var got []byte
	for !dev.Empty() {
		got = append(got, dev.Pop())
	}
	if !bytes.Equal(got, []byte{'A', 0xFF, 'B'}) {
		t.Fatalf("got %v, want [A FF B]", got)
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	var dec Decoder
	var table OptionTable
	table.Set(OptComPort, OptionState{IsDo: true})
	dev := ringbuf.New(32)
	var h recordingHandler

	input := []byte{IAC, SB, OptComPort, CPCSignature, IAC, SE}
	for _, b := range input {
		dec.Decode(b, dev, &table, &h)
	}
	if len(h.commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(h.commands))
	}
	cmd := h.commands[0]
	if cmd.Kind != KindSuboption || cmd.Subcommand != CPCSignature || len(cmd.Payload) != 0 {
		t.Fatalf("unexpected command: %+v", cmd)
	}

	out := ringbuf.New(512)
	SendSignature(out, "sercd 2.3.2 /dev/ttyS0")
	want := append([]byte{IAC, SB, OptComPort, CPCSignature + ReplyOffset}, []byte("sercd 2.3.2 /dev/ttyS0")...)
	want = append(want, IAC, SE)
	var got []byte
	for !out.Empty() {
		got = append(got, out.Pop())
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBaudRateSetAndQuery(t *testing.T) {
	var dec Decoder
	var table OptionTable
	table.Set(OptComPort, OptionState{IsDo: true})
	dev := ringbuf.New(32)
	var h recordingHandler

	input := []byte{IAC, SB, OptComPort, CPCSetBaudrate, 0x00, 0x00, 0x25, 0x80, IAC, SE}
	for _, b := range input {
		dec.Decode(b, dev, &table, &h)
	}
	if len(h.commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(h.commands))
	}
	cmd := h.commands[0]
	if cmd.Subcommand != CPCSetBaudrate || !bytes.Equal(cmd.Payload, []byte{0x00, 0x00, 0x25, 0x80}) {
		t.Fatalf("unexpected payload: %+v", cmd)
	}

	out := ringbuf.New(32)
	SendBaudRate(out, 9600)
	want := []byte{IAC, SB, OptComPort, CPCSetBaudrate + ReplyOffset, 0x00, 0x00, 0x25, 0x80, IAC, SE}
	var got []byte
	for !out.Empty() {
		got = append(got, out.Pop())
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNegotiationDispatch(t *testing.T) {
	var dec Decoder
	var table OptionTable
	dev := ringbuf.New(8)
	var h recordingHandler

	input := []byte{IAC, WILL, OptComPort}
	for _, b := range input {
		dec.Decode(b, dev, &table, &h)
	}
	if len(h.commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(h.commands))
	}
	cmd := h.commands[0]
	if cmd.Kind != KindNegotiation || cmd.NegCommand != WILL || cmd.Option != OptComPort {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestDecoderTotalOnOversizedSignature(t *testing.T) {
	var dec Decoder
	var table OptionTable
	dev := ringbuf.New(8)
	var h recordingHandler

	dec.Decode(IAC, dev, &table, &h)
	dec.Decode(SB, dev, &table, &h)
	dec.Decode(OptComPort, dev, &table, &h)
	dec.Decode(CPCSignature, dev, &table, &h)
	for i := 0; i < maxCmdBuf+50; i++ {
		dec.Decode(byte('a'+i%26), dev, &table, &h)
	}
	dec.Decode(IAC, dev, &table, &h)
	dec.Decode(SE, dev, &table, &h)

	if len(h.commands) != 1 {
		t.Fatalf("expected exactly 1 command despite oversized payload, got %d", len(h.commands))
	}
	if len(h.commands[0].Payload) > maxSignatureLen {
		t.Fatalf("payload not bounded: len=%d", len(h.commands[0].Payload))
	}
	if dec.state != decNormal {
		t.Fatalf("decoder did not return to Normal state")
	}
}

func TestSendOptionTracksSentFlags(t *testing.T) {
	var table OptionTable
	out := ringbuf.New(8)
	SendOption(out, &table, WILL, OptEcho)
	if !table.Get(OptEcho).SentWill {
		t.Fatalf("SentWill not recorded")
	}
	var got []byte
	for !out.Empty() {
		got = append(got, out.Pop())
	}
	if !bytes.Equal(got, []byte{IAC, WILL, OptEcho}) {
		t.Fatalf("got %v", got)
	}
}
