package domain

import "time"

// AliceState tracks where an input-side participant is in the registration lifecycle.
type AliceState int

const (
	InputsRegistered AliceState = iota
	ConnectionConfirmed
)

func (s AliceState) String() string {
	switch s {
	case InputsRegistered:
		return "INPUTS_REGISTERED"
	case ConnectionConfirmed:
		return "CONNECTION_CONFIRMED"
	default:
		return "UNKNOWN_ALICE_STATE"
	}
}

// MaxInputsPerAlice is the per-Alice input limit advertised in GET /states.
// Registration itself enforces the coordinator's configured limit.
const MaxInputsPerAlice = 7

// Coin is a single UTXO offered as an input by an Alice, together with the
// UTXO metadata the coordinator needed at validation time.
type Coin struct {
	Outpoint Outpoint
	Value    uint64
	Script   string
}

// Alice is an input-side participant within a single round.
type Alice struct {
	UniqueID         string
	Inputs           []Coin
	ChangeScript     string
	BlindedOutputHex string
	NetworkFeeOwed   uint64
	State            AliceState
	LastSeen         time.Time
}

// TotalInputAmount sums the value of all the inputs Alice registered.
func (a *Alice) TotalInputAmount() uint64 {
	var total uint64
	for _, c := range a.Inputs {
		total += c.Value
	}
	return total
}

// HasOutpoint reports whether o is among Alice's registered inputs.
func (a *Alice) HasOutpoint(o Outpoint) bool {
	for _, c := range a.Inputs {
		if c.Outpoint == o {
			return true
		}
	}
	return false
}

// Outpoints returns the outpoints Alice has registered as inputs.
func (a *Alice) Outpoints() []Outpoint {
	out := make([]Outpoint, 0, len(a.Inputs))
	for _, c := range a.Inputs {
		out = append(out, c.Outpoint)
	}
	return out
}

func (a *Alice) touch(now time.Time) {
	a.LastSeen = now
}
