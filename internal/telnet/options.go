package telnet

// OptionState tracks the negotiation posture for a single option code, per
// §3's TelnetOptionTable. sent_* guards against redundant/looping emission
// and is cleared once the peer's matching reply arrives; is_* records the
// negotiated posture itself.
type OptionState struct {
	SentWill bool
	SentDo   bool
	SentWont bool
	SentDont bool
	IsWill   bool // we WILL this option: the peer has DO'd it (our side sends it)
	IsDo     bool // we DO this option: the peer has WILL'd it (peer side sends it)
}

// OptionTable is the full 256-entry mapping from option code to posture.
type OptionTable struct {
	states [256]OptionState
}

// Get returns the current state for opt by value; callers mutate through
// Set.
func (t *OptionTable) Get(opt byte) OptionState {
	return t.states[opt]
}

// Set overwrites the full state for opt.
func (t *OptionTable) Set(opt byte, s OptionState) {
	t.states[opt] = s
}

// IsNegotiated reports whether the option is currently active in either
// direction, gating suboption dispatch per §4.5 ("only if option is
// currently is_will || is_do, else ignore").
func (t *OptionTable) IsNegotiated(opt byte) bool {
	s := t.states[opt]
	return s.IsWill || s.IsDo
}

// Reset clears the whole table, used when a new client session begins.
func (t *OptionTable) Reset() {
	t.states = [256]OptionState{}
}
