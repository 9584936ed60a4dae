// Package session implements the session lifecycle (§4.7) and the
// non-blocking bidirectional event loop (§4.6) that ties the ring
// buffers, telnet codec, and CPC handler together around one active
// client.
package session

import (
	"go.uber.org/zap"

	"github.com/sercd-go/sercd/internal/cpc"
	"github.com/sercd-go/sercd/internal/ringbuf"
	"github.com/sercd-go/sercd/internal/telnet"
)

// session holds everything reset per §3's lifecycle when a new client is
// accepted: buffers, codec state, negotiation table, and CPC posture.
type session struct {
	toDev *ringbuf.Buffer // network -> device
	toNet *ringbuf.Buffer // device -> network

	decoder telnet.Decoder
	encoder telnet.Encoder
	table   telnet.OptionTable

	cpcState *cpc.SessionState
	handler  *cpc.Handler

	id string // correlation id, google/uuid, for structured logging
}

func newSession(id string, ringCap int, adapter cpc.Adapter, ciscoIOS bool, log *zap.SugaredLogger) *session {
	s := &session{
		toDev:    ringbuf.New(ringCap),
		toNet:    ringbuf.New(ringCap),
		cpcState: cpc.NewSessionState(),
		id:       id,
	}
	s.handler = &cpc.Handler{
		Table:    &s.table,
		State:    s.cpcState,
		Adapter:  adapter,
		ToNet:    s.toNet,
		Log:      log,
		CiscoIOS: ciscoIOS,
	}
	return s
}

// sendInitialNegotiation emits the pre-session option offers (§4.3) right
// after a client is adopted, before any byte of application data flows.
func (s *session) sendInitialNegotiation() {
	telnet.SendOption(s.toNet, &s.table, telnet.WILL, telnet.OptTransmitBinary)
	telnet.SendOption(s.toNet, &s.table, telnet.DO, telnet.OptTransmitBinary)
	telnet.SendOption(s.toNet, &s.table, telnet.WILL, telnet.OptEcho)
	telnet.SendOption(s.toNet, &s.table, telnet.WILL, telnet.OptSuppressGoAhead)
	telnet.SendOption(s.toNet, &s.table, telnet.DO, telnet.OptSuppressGoAhead)
	telnet.SendOption(s.toNet, &s.table, telnet.DO, telnet.OptComPort)
}

// ourSideBinary reports whether TRANSMIT_BINARY is in force for the
// device->client direction, gating CR-NUL insertion in the encoder.
func (s *session) ourSideBinary() bool {
	return s.table.Get(telnet.OptTransmitBinary).IsWill
}

// clientSideBinary reports whether TRANSMIT_BINARY is in force for the
// client->device direction (§4.4's "our-side is_do(BINARY)"). The decoder
// reads the same flag from the option table itself and does not call this.
func (s *session) clientSideBinary() bool {
	return s.table.Get(telnet.OptTransmitBinary).IsDo
}
