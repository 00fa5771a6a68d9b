package domain

import "time"

const RoundTopic = "round"

// RoundEvent is a fact raised by a Round as it moves through the state
// machine. The application layer fans these out over a channel so the
// dashboard / status endpoint can observe progress without polling.
type RoundEvent interface {
	GetTopic() string
}

func (e RoundOpened) GetTopic() string          { return RoundTopic }
func (e AliceRegistered) GetTopic() string      { return RoundTopic }
func (e AliceRemoved) GetTopic() string         { return RoundTopic }
func (e PhaseAdvanced) GetTopic() string        { return RoundTopic }
func (e BobRegistered) GetTopic() string        { return RoundTopic }
func (e RoundSucceeded) GetTopic() string       { return RoundTopic }
func (e RoundFailed) GetTopic() string          { return RoundTopic }

type RoundOpened struct {
	RoundID   int64
	Timestamp time.Time
}

type AliceRegistered struct {
	RoundID  int64
	UniqueID string
}

type AliceRemoved struct {
	RoundID  int64
	UniqueID string
	Reason   string
}

type PhaseAdvanced struct {
	RoundID   int64
	Phase     Phase
	Timestamp time.Time
}

type BobRegistered struct {
	RoundID      int64
	OutputScript string
}

type RoundSucceeded struct {
	RoundID   int64
	Txid      string
	Timestamp time.Time
}

type RoundFailed struct {
	RoundID   int64
	Reason    string
	Timestamp time.Time
}
