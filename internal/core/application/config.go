package application

import (
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
)

// Config is the static policy the core is started with. It never mutates
// at runtime; a restart is required to change it.
type Config struct {
	Network string

	Denomination          uint64
	AnonymitySet          int
	FeePerInput           uint64
	FeePerOutput          uint64
	CoordinatorFeePercent float64

	AliceRegistrationTimeout      time.Duration
	ConnectionConfirmationTimeout time.Duration
	OutputRegistrationTimeout     time.Duration
	SigningTimeout                time.Duration

	MaxUnconfirmedCoinJoins int
	MaxInputsPerAlice       int
	BanDuration             time.Duration

	// RoundCadence is how often the coordinator opens a fresh
	// InputRegistration round when none is open.
	RoundCadence time.Duration
}

// DefaultConfig mirrors the defaults called out in the spec.
func DefaultConfig() Config {
	return Config{
		Network:                       "mainnet",
		Denomination:                  10_000_000,
		AnonymitySet:                  5,
		FeePerInput:                   5_000,
		FeePerOutput:                  10_000,
		CoordinatorFeePercent:         0.003,
		AliceRegistrationTimeout:      10 * time.Minute,
		ConnectionConfirmationTimeout: time.Minute,
		OutputRegistrationTimeout:     time.Minute,
		SigningTimeout:                2 * time.Minute,
		MaxUnconfirmedCoinJoins:       24,
		MaxInputsPerAlice:             7,
		BanDuration:                   30 * 24 * time.Hour,
		RoundCadence:                  15 * time.Minute,
	}
}

func (c Config) roundParams() domain.Params {
	return domain.Params{
		Denomination:                  c.Denomination,
		AnonymitySet:                  c.AnonymitySet,
		FeePerInput:                   c.FeePerInput,
		FeePerOutput:                  c.FeePerOutput,
		CoordinatorFeePercent:         c.CoordinatorFeePercent,
		AliceRegistrationTimeout:      c.AliceRegistrationTimeout,
		ConnectionConfirmationTimeout: c.ConnectionConfirmationTimeout,
		OutputRegistrationTimeout:     c.OutputRegistrationTimeout,
		SigningTimeout:                c.SigningTimeout,
	}
}
