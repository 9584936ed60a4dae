package cpc

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/sercd-go/sercd/internal/telnet"
)

// Version is embedded in the signature string the server sends back for
// subcommand 0 (SIGNATURE), matching the original's "sercd <ver> <device>"
// format (§4.5, scenario 1).
const Version = "2.3.2"

// Handler dispatches option negotiation and CPC suboptions. When CiscoIOS
// is set, SET_CONTROL replies for inbound-flow selectors (13..16) report 0
// instead of the real value, matching Cisco IOS 11.3's behavior (§9 design
// notes).
type Handler struct {
	Table       *telnet.OptionTable
	State       *SessionState
	Adapter     Adapter
	ToNet       telnet.Sink
	Log         *zap.SugaredLogger
	CiscoIOS    bool
}

var supportedOptions = map[byte]bool{
	telnet.OptComPort:         true,
	telnet.OptTransmitBinary:  true,
	telnet.OptEcho:            true,
	telnet.OptSuppressGoAhead: true,
}

func (h *Handler) logf(format string, args ...any) {
	if h.Log != nil {
		h.Log.Debugf(format, args...)
	}
}

func (h *Handler) warnf(format string, args ...any) {
	if h.Log != nil {
		h.Log.Warnf(format, args...)
	}
}

// HandleCommand implements telnet.Handler (§4.5).
func (h *Handler) HandleCommand(cmd telnet.Command) {
	switch cmd.Kind {
	case telnet.KindNegotiation:
		h.handleNegotiation(cmd.NegCommand, cmd.Option)
	case telnet.KindSuboption:
		h.handleSuboption(cmd.Option, cmd.Subcommand, cmd.Payload)
	}
}

func (h *Handler) handleNegotiation(verb, opt byte) {
	switch verb {
	case telnet.WILL:
		h.handleWill(opt)
	case telnet.DO:
		h.handleDo(opt)
	case telnet.DONT:
		h.handleDont(opt)
	case telnet.WONT:
		h.handleWont(opt)
	}
}

func (h *Handler) handleWill(opt byte) {
	s := h.Table.Get(opt)
	if supportedOptions[opt] {
		if !s.SentDo {
			telnet.SendOption(h.ToNet, h.Table, telnet.DO, opt)
		}
		s = h.Table.Get(opt)
		s.IsDo = true
		if opt == telnet.OptComPort {
			h.State.Enabled = true
			h.logf("telnet COM Port Control enabled (WILL)")
		}
	} else {
		telnet.SendOption(h.ToNet, h.Table, telnet.DONT, opt)
		s = h.Table.Get(opt)
		s.IsDo = false
		h.logf("rejecting option WILL: %d", opt)
	}
	s.SentDo = false
	s.SentDont = false
	h.Table.Set(opt, s)
}

func (h *Handler) handleDo(opt byte) {
	s := h.Table.Get(opt)
	if supportedOptions[opt] {
		if !s.SentWill {
			telnet.SendOption(h.ToNet, h.Table, telnet.WILL, opt)
		}
		s = h.Table.Get(opt)
		s.IsWill = true
		if opt == telnet.OptComPort {
			h.State.Enabled = true
			h.logf("telnet COM Port Control enabled (DO)")
		}
	} else {
		telnet.SendOption(h.ToNet, h.Table, telnet.WONT, opt)
		s = h.Table.Get(opt)
		s.IsWill = false
		h.logf("rejecting option DO: %d", opt)
	}
	s.SentWill = false
	s.SentWont = false
	h.Table.Set(opt, s)
}

func (h *Handler) handleDont(opt byte) {
	s := h.Table.Get(opt)
	h.logf("received rejection for option: %d", opt)
	if s.IsWill {
		telnet.SendOption(h.ToNet, h.Table, telnet.WONT, opt)
		s = h.Table.Get(opt)
		s.IsWill = false
	}
	s.SentWill = false
	s.SentWont = false
	h.Table.Set(opt, s)
}

func (h *Handler) handleWont(opt byte) {
	s := h.Table.Get(opt)
	if opt == telnet.OptComPort {
		h.warnf("client does not support RFC 2217 COM Port Control, serving anyway")
	} else {
		h.logf("received rejection for option: %d", opt)
	}
	if s.IsDo {
		telnet.SendOption(h.ToNet, h.Table, telnet.DONT, opt)
		s = h.Table.Get(opt)
		s.IsDo = false
	}
	s.SentDo = false
	s.SentDont = false
	h.Table.Set(opt, s)
}

func (h *Handler) handleSuboption(opt, subcmd byte, payload []byte) {
	if opt != telnet.OptComPort {
		h.logf("unknown suboption received: %d", opt)
		return
	}
	if !h.Table.IsNegotiated(opt) {
		return
	}

	switch subcmd {
	case telnet.CPCSignature:
		h.handleSignature(payload)
	case telnet.CPCSetBaudrate:
		h.handleSetBaudrate(payload)
	case telnet.CPCSetDatasize:
		h.handleSetByteParam(payload, h.Adapter.SetDataSize, h.Adapter.DataSize, telnet.CPCSetDatasize)
	case telnet.CPCSetParity:
		h.handleSetByteParam(payload, h.Adapter.SetParity, h.Adapter.Parity, telnet.CPCSetParity)
	case telnet.CPCSetStopsize:
		h.handleSetByteParam(payload, h.Adapter.SetStopSize, h.Adapter.StopSize, telnet.CPCSetStopsize)
	case telnet.CPCSetControl:
		h.handleSetControl(payload)
	case telnet.CPCFlowcontrolSuspend:
		h.State.InputFlow = false
		h.logf("flow control suspend requested")
	case telnet.CPCFlowcontrolResume:
		h.State.InputFlow = true
		h.logf("flow control resume requested")
	case telnet.CPCSetLinestateMask:
		if len(payload) != 1 {
			return
		}
		h.State.LineStateMask = payload[0] & 0x10
		telnet.SendCPCByteCommand(h.ToNet, telnet.CPCSetLinestateMask+telnet.ReplyOffset, h.State.LineStateMask)
	case telnet.CPCSetModemstateMask:
		if len(payload) != 1 {
			return
		}
		h.State.ModemStateMask = payload[0]
		telnet.SendCPCByteCommand(h.ToNet, telnet.CPCSetModemstateMask+telnet.ReplyOffset, payload[0])
	case telnet.CPCPurgeData:
		if len(payload) != 1 {
			return
		}
		if err := h.Adapter.Purge(payload[0]); err != nil {
			h.warnf("purge %d failed: %v", payload[0], err)
		}
		telnet.SendCPCByteCommand(h.ToNet, telnet.CPCPurgeData+telnet.ReplyOffset, payload[0])
	default:
		h.logf("unhandled CPC request %d", subcmd)
	}
}

func (h *Handler) handleSignature(payload []byte) {
	if len(payload) == 0 {
		sig := fmt.Sprintf("sercd %s %s", Version, h.Adapter.DeviceName())
		telnet.SendSignature(h.ToNet, sig)
		if h.Log != nil {
			h.Log.Infof("sent signature: %s", sig)
		}
		return
	}
	if h.Log != nil {
		h.Log.Infof("received client signature: %s", string(payload))
	}
}

func (h *Handler) handleSetBaudrate(payload []byte) {
	if len(payload) != 4 {
		return
	}
	rate := binary.BigEndian.Uint32(payload)
	if rate != 0 {
		h.logf("port baud rate change to %d requested", rate)
		if err := h.Adapter.SetBaudRate(rate); err != nil {
			h.warnf("set baud rate %d failed: %v", rate, err)
		}
	}
	actual, err := h.Adapter.BaudRate()
	if err != nil {
		h.warnf("read back baud rate failed: %v", err)
		return
	}
	telnet.SendBaudRate(h.ToNet, actual)
	h.logf("port baud rate: %d", actual)
}

func (h *Handler) handleSetByteParam(payload []byte, set func(byte) error, get func() (byte, error), subcmd byte) {
	if len(payload) != 1 {
		return
	}
	if payload[0] != 0 {
		if err := set(payload[0]); err != nil {
			h.warnf("set %d to %d failed: %v", subcmd, payload[0], err)
		}
	}
	actual, err := get()
	if err != nil {
		h.warnf("read back %d failed: %v", subcmd, err)
		return
	}
	telnet.SendCPCByteCommand(h.ToNet, subcmd+telnet.ReplyOffset, actual)
}

// SET_CONTROL query selector codes (§4.5, C original's TNCAS_SET_CONTROL
// switch): flow/BREAK/DTR/RTS/inbound-flow "tell me the current value".
const (
	ctlQueryFlow    = 0
	ctlBreakOn      = 5
	ctlBreakOff     = 6
	ctlQueryBreak   = 4
	ctlQueryDTR     = 7
	ctlQueryRTS     = 10
	ctlQueryInbound = 13
)

func isQuerySelector(sel byte) bool {
	switch sel {
	case ctlQueryFlow, ctlQueryBreak, ctlQueryDTR, ctlQueryRTS, ctlQueryInbound:
		return true
	}
	return false
}

func (h *Handler) handleSetControl(payload []byte) {
	if len(payload) != 1 {
		return
	}
	sel := payload[0]

	switch {
	case isQuerySelector(sel):
		var value byte
		switch {
		case sel == ctlQueryBreak:
			value = ctlBreakOff
			if h.State.BreakSignaled {
				value = ctlBreakOn
			}
		case h.CiscoIOS && sel == ctlQueryInbound:
			value = 0
		default:
			v, err := h.Adapter.FlowControl(sel)
			if err != nil {
				h.warnf("flow control query %d failed: %v", sel, err)
				return
			}
			value = v
		}
		telnet.SendCPCByteCommand(h.ToNet, telnet.CPCSetControl+telnet.ReplyOffset, value)

	case sel == ctlBreakOn:
		if err := h.Adapter.SetBreak(true); err != nil {
			h.warnf("set break on failed: %v", err)
		}
		h.State.BreakSignaled = true
		h.logf("break signal ON")
		telnet.SendCPCByteCommand(h.ToNet, telnet.CPCSetControl+telnet.ReplyOffset, sel)

	case sel == ctlBreakOff:
		if err := h.Adapter.SetBreak(false); err != nil {
			h.warnf("set break off failed: %v", err)
		}
		h.State.BreakSignaled = false
		h.logf("break signal OFF")
		telnet.SendCPCByteCommand(h.ToNet, telnet.CPCSetControl+telnet.ReplyOffset, sel)

	default:
		if err := h.Adapter.SetFlowControl(sel); err != nil {
			h.warnf("set flow control %d failed: %v", sel, err)
		}
		var value byte
		if h.CiscoIOS && sel >= 13 && sel <= 16 {
			value = 0
		} else {
			v, err := h.Adapter.FlowControl(ctlQueryFlow)
			if err != nil {
				h.warnf("flow control readback failed: %v", err)
				return
			}
			value = v
		}
		telnet.SendCPCByteCommand(h.ToNet, telnet.CPCSetControl+telnet.ReplyOffset, value)
	}
}
