package domain

import "fmt"

// RejectionKind tags every way a core operation can refuse a request. Callers
// switch on Kind rather than on error strings.
type RejectionKind int

const (
	KindInvalidRequest RejectionKind = iota
	KindInputDisallowed
	KindInsufficientFunds
	KindInvalidProof
	KindPhaseMismatch
	KindNotFound
	KindTransient
	KindFatal
)

func (k RejectionKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "INVALID_REQUEST"
	case KindInputDisallowed:
		return "INPUT_DISALLOWED"
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	case KindInvalidProof:
		return "INVALID_PROOF"
	case KindPhaseMismatch:
		return "PHASE_MISMATCH"
	case KindNotFound:
		return "NOT_FOUND"
	case KindTransient:
		return "TRANSIENT"
	case KindFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Rejection is the tagged result type every validation step in the round
// state machine returns instead of raising an exception.
type Rejection struct {
	Kind RejectionKind
	Msg  string

	// BanMinutesRemaining is set only for KindInputDisallowed rejections
	// caused by an outpoint that is still under an active ban.
	BanMinutesRemaining int
}

func (e *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func NewRejection(kind RejectionKind, format string, args ...interface{}) *Rejection {
	return &Rejection{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func NewBanRejection(minutesRemaining int, format string, args ...interface{}) *Rejection {
	return &Rejection{
		Kind:                KindInputDisallowed,
		Msg:                 fmt.Sprintf(format, args...),
		BanMinutesRemaining: minutesRemaining,
	}
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	r, ok := err.(*Rejection)
	return r, ok
}
