// Package config loads the coordinator's static policy from the environment
// and wires up the concrete infrastructure adapters the core depends on.
package config

import (
	"fmt"
	"os"

	"github.com/blindmix/coordinator/internal/core/application"
	"github.com/blindmix/coordinator/internal/core/ports"
	badgerbanstore "github.com/blindmix/coordinator/internal/infrastructure/banstore/badger"
	btcdoracle "github.com/blindmix/coordinator/internal/infrastructure/chainoracle/btcd"
	"github.com/blindmix/coordinator/internal/infrastructure/blindsign/rsablind"
	timescheduler "github.com/blindmix/coordinator/internal/infrastructure/scheduler/gocron"
	"github.com/blindmix/coordinator/internal/infrastructure/txbuilder/btcwire"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	keyDatadir                 = "DATADIR"
	keyPort                    = "PORT"
	keyLogLevel                = "LOG_LEVEL"
	keyNetwork                 = "NETWORK"
	keyDenomination            = "DENOMINATION"
	keyAnonymitySet            = "ANONYMITY_SET"
	keyFeePerInput             = "FEE_PER_INPUT"
	keyFeePerOutput            = "FEE_PER_OUTPUT"
	keyCoordinatorFeePercent   = "COORDINATOR_FEE_PERCENT"
	keyAliceTimeout            = "ALICE_REGISTRATION_TIMEOUT"
	keyConnConfTimeout         = "CONNECTION_CONFIRMATION_TIMEOUT"
	keyOutputTimeout           = "OUTPUT_REGISTRATION_TIMEOUT"
	keySigningTimeout          = "SIGNING_TIMEOUT"
	keyMaxUnconfirmedCoinJoins = "MAX_UNCONFIRMED_COINJOINS"
	keyMaxInputsPerAlice       = "MAX_INPUTS_PER_ALICE"
	keyBanDuration             = "BAN_DURATION"
	keyRoundCadence            = "ROUND_CADENCE"
	keyChainHost               = "CHAIN_RPC_HOST"
	keyChainUser               = "CHAIN_RPC_USER"
	keyChainPass               = "CHAIN_RPC_PASS"

	defaultDatadir = dataDir("coordinatord")
)

func dataDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + name
	}
	return home + "/." + name
}

// Config is everything needed to stand up a Coordinator: its static policy
// plus the infrastructure adapters it talks through.
type Config struct {
	application.Config

	Datadir  string
	Port     uint32
	LogLevel int

	ChainHost string
	ChainUser string
	ChainPass string
}

// Load reads configuration from the environment (prefixed BLINDMIX_) with
// the same defaults the design calls out, and falls back to them whenever a
// variable is unset.
func Load() (*Config, error) {
	viper.SetEnvPrefix("BLINDMIX")
	viper.AutomaticEnv()

	defaults := application.DefaultConfig()

	viper.SetDefault(keyDatadir, defaultDatadir)
	viper.SetDefault(keyPort, 8080)
	viper.SetDefault(keyLogLevel, int(log.InfoLevel))
	viper.SetDefault(keyNetwork, defaults.Network)
	viper.SetDefault(keyDenomination, defaults.Denomination)
	viper.SetDefault(keyAnonymitySet, defaults.AnonymitySet)
	viper.SetDefault(keyFeePerInput, defaults.FeePerInput)
	viper.SetDefault(keyFeePerOutput, defaults.FeePerOutput)
	viper.SetDefault(keyCoordinatorFeePercent, defaults.CoordinatorFeePercent)
	viper.SetDefault(keyAliceTimeout, defaults.AliceRegistrationTimeout)
	viper.SetDefault(keyConnConfTimeout, defaults.ConnectionConfirmationTimeout)
	viper.SetDefault(keyOutputTimeout, defaults.OutputRegistrationTimeout)
	viper.SetDefault(keySigningTimeout, defaults.SigningTimeout)
	viper.SetDefault(keyMaxUnconfirmedCoinJoins, defaults.MaxUnconfirmedCoinJoins)
	viper.SetDefault(keyMaxInputsPerAlice, defaults.MaxInputsPerAlice)
	viper.SetDefault(keyBanDuration, defaults.BanDuration)
	viper.SetDefault(keyRoundCadence, defaults.RoundCadence)

	if err := os.MkdirAll(viper.GetString(keyDatadir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %w", err)
	}

	cfg := &Config{
		Config: application.Config{
			Network:                       viper.GetString(keyNetwork),
			Denomination:                  viper.GetUint64(keyDenomination),
			AnonymitySet:                  viper.GetInt(keyAnonymitySet),
			FeePerInput:                   viper.GetUint64(keyFeePerInput),
			FeePerOutput:                  viper.GetUint64(keyFeePerOutput),
			CoordinatorFeePercent:         viper.GetFloat64(keyCoordinatorFeePercent),
			AliceRegistrationTimeout:      viper.GetDuration(keyAliceTimeout),
			ConnectionConfirmationTimeout: viper.GetDuration(keyConnConfTimeout),
			OutputRegistrationTimeout:     viper.GetDuration(keyOutputTimeout),
			SigningTimeout:                viper.GetDuration(keySigningTimeout),
			MaxUnconfirmedCoinJoins:       viper.GetInt(keyMaxUnconfirmedCoinJoins),
			MaxInputsPerAlice:             viper.GetInt(keyMaxInputsPerAlice),
			BanDuration:                   viper.GetDuration(keyBanDuration),
			RoundCadence:                  viper.GetDuration(keyRoundCadence),
		},
		Datadir:   viper.GetString(keyDatadir),
		Port:      viper.GetUint32(keyPort),
		LogLevel:  viper.GetInt(keyLogLevel),
		ChainHost: viper.GetString(keyChainHost),
		ChainUser: viper.GetString(keyChainUser),
		ChainPass: viper.GetString(keyChainPass),
	}

	if cfg.AnonymitySet < 2 {
		return nil, fmt.Errorf("anonymity_set must be at least 2, got %d", cfg.AnonymitySet)
	}
	if cfg.ChainHost == "" {
		return nil, fmt.Errorf("%s%s is required", "BLINDMIX_", keyChainHost)
	}

	return cfg, nil
}

// Dependencies bundles every concrete infrastructure adapter the
// Coordinator needs, constructed from this Config.
type Dependencies struct {
	ChainOracle ports.ChainOracle
	BanStore    ports.BanStore
	BlindSigner ports.BlindSigner
	TxBuilder   ports.TxBuilder
	Scheduler   ports.SchedulerService
}

// Build wires up the infrastructure layer: a btcd-RPC chain oracle, a
// badger-backed ban store, a fresh blind-RSA signing key, the plain
// wire.MsgTx transaction builder, and a gocron-backed scheduler.
func (c *Config) Build() (*Dependencies, error) {
	oracle, err := btcdoracle.New(btcdoracle.Config{
		Host:    c.ChainHost,
		User:    c.ChainUser,
		Pass:    c.ChainPass,
		DataDir: c.Datadir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build chain oracle: %w", err)
	}

	banStore, err := badgerbanstore.New(c.Datadir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ban store: %w", err)
	}

	signer, err := rsablind.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate blind signing key: %w", err)
	}

	return &Dependencies{
		ChainOracle: oracle,
		BanStore:    banStore,
		BlindSigner: signer,
		TxBuilder:   btcwire.New(),
		Scheduler:   timescheduler.NewScheduler(),
	}, nil
}
