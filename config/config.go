// Package config loads facilitator settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/networks"
)

// Config is the facilitator process configuration. Field tags name the
// environment variable each value comes from.
type Config struct {
	Port        int    `env:"PORT" validate:"min=1,max=65535"`
	MetricsPort int    `env:"METRICS_PORT" validate:"min=0,max=65535"`
	LogLevel    string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	Version     string `env:"VERSION"`

	// EVM and TRON are nil when their private key is not set
	EVM  *EVMConfig  `env:"EVM" validate:"omitempty"`
	TRON *TRONConfig `env:"TRON" validate:"omitempty"`

	SettlementCacheTTL  time.Duration `env:"SETTLEMENT_CACHE_TTL" validate:"min=0"`
	ReceiptTimeout      time.Duration `env:"RECEIPT_TIMEOUT" validate:"gt=0"`
	ReceiptPollInterval time.Duration `env:"RECEIPT_POLL_INTERVAL" validate:"gt=0"`
}

type EVMConfig struct {
	PrivateKey       string                  `env:"EVM_PRIVATE_KEY" validate:"required,len=64,hexadecimal"`
	RPCURL           string                  `env:"EVM_RPC_URL" validate:"required,url"`
	Networks         []x402.Network          `env:"EVM_NETWORKS" validate:"required,min=1,dive,evm_network"`
	PermitContracts  map[x402.Network]string `env:"EVM_PERMIT_CONTRACTS" validate:"dive,keys,evm_network,endkeys,required"`
	MinConfirmations uint64                  `env:"EVM_MIN_CONFIRMATIONS"`
}

type TRONConfig struct {
	PrivateKey       string       `env:"TRON_PRIVATE_KEY" validate:"required,len=64,hexadecimal"`
	Network          x402.Network `env:"TRON_NETWORK" validate:"tron_network"`
	GridURL          string       `env:"TRON_GRID_URL" validate:"required,url"`
	APIKey           string       `env:"TRON_API_KEY"`
	MinConfirmations uint64       `env:"TRON_MIN_CONFIRMATIONS"`
}

const (
	DefaultPort                = 8001
	DefaultMetricsPort         = 9090
	DefaultLogLevel            = "info"
	DefaultSettlementCacheTTL  = 10 * time.Minute
	DefaultReceiptTimeout      = 120 * time.Second
	DefaultReceiptPollInterval = 3 * time.Second
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("env")
	})
	v.RegisterValidation("evm_network", func(fl validator.FieldLevel) bool {
		n := x402.Network(fl.Field().String())
		return networks.IsEVM(n) && !n.IsWildcard()
	})
	v.RegisterValidation("tron_network", func(fl validator.FieldLevel) bool {
		n := x402.Network(fl.Field().String())
		return networks.IsTRON(n) && !n.IsWildcard()
	})
	return v
}

// Load reads files into the environment, then builds the config from it.
// With no files it tries .env and ignores a missing one. Variables already
// set in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, &x402.ConfigurationError{Setting: ".env", Reason: err.Error()}
		}
	} else if err := godotenv.Load(files...); err != nil {
		return nil, &x402.ConfigurationError{Setting: strings.Join(files, ","), Reason: err.Error()}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds and validates a config from lookup
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}
	cfg := &Config{
		Port:                r.integer("PORT", DefaultPort),
		MetricsPort:         r.integer("METRICS_PORT", DefaultMetricsPort),
		LogLevel:            strings.ToLower(r.str("LOG_LEVEL", DefaultLogLevel)),
		Version:             r.str("VERSION", "dev"),
		SettlementCacheTTL:  r.duration("SETTLEMENT_CACHE_TTL", DefaultSettlementCacheTTL),
		ReceiptTimeout:      r.duration("RECEIPT_TIMEOUT", DefaultReceiptTimeout),
		ReceiptPollInterval: r.duration("RECEIPT_POLL_INTERVAL", DefaultReceiptPollInterval),
	}

	if key := r.str("EVM_PRIVATE_KEY", ""); key != "" {
		cfg.EVM = &EVMConfig{
			PrivateKey:       trimHex(key),
			RPCURL:           r.str("EVM_RPC_URL", ""),
			Networks:         r.networkList("EVM_NETWORKS", []x402.Network{networks.BaseSepolia}),
			PermitContracts:  r.contracts("EVM_PERMIT_CONTRACTS"),
			MinConfirmations: uint64(r.integer("EVM_MIN_CONFIRMATIONS", 0)),
		}
	}

	if key := r.str("TRON_PRIVATE_KEY", ""); key != "" {
		network := x402.Network(r.str("TRON_NETWORK", string(networks.TronNile)))
		defaultGrid, _ := networks.TronGridURL(network)
		cfg.TRON = &TRONConfig{
			PrivateKey:       trimHex(key),
			Network:          network,
			GridURL:          r.str("TRON_GRID_URL", defaultGrid),
			APIKey:           r.str("TRON_API_KEY", ""),
			MinConfirmations: uint64(r.integer("TRON_MIN_CONFIRMATIONS", 0)),
		}
	}

	if r.err != nil {
		return nil, r.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and that at least one chain is configured
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &x402.ConfigurationError{
				Setting: fe.Field(),
				Reason:  fmt.Sprintf("failed %q validation", fe.Tag()),
			}
		}
		return &x402.ConfigurationError{Setting: "config", Reason: err.Error()}
	}
	if c.EVM == nil && c.TRON == nil {
		return &x402.ConfigurationError{
			Setting: "EVM_PRIVATE_KEY",
			Reason:  "at least one of EVM_PRIVATE_KEY or TRON_PRIVATE_KEY is required",
		}
	}
	return nil
}

// reader keeps the first parse error so FromLookup can report one problem
type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) fail(key string, err error) {
	if r.err == nil {
		r.err = &x402.ConfigurationError{Setting: key, Reason: err.Error()}
	}
}

func (r *reader) integer(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, err)
		return def
	}
	return d
}

func (r *reader) networkList(key string, def []x402.Network) []x402.Network {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	var out []x402.Network
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, x402.Network(part))
		}
	}
	return out
}

// contracts parses "eip155:8453=0xabc,eip155:84532=0xdef"
func (r *reader) contracts(key string) map[x402.Network]string {
	v := r.str(key, "")
	if v == "" {
		return nil
	}
	out := make(map[x402.Network]string)
	for _, part := range strings.Split(v, ",") {
		network, contract, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			r.fail(key, fmt.Errorf("expected network=address, got %q", part))
			return nil
		}
		out[x402.Network(strings.TrimSpace(network))] = strings.TrimSpace(contract)
	}
	return out
}

func trimHex(s string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}
