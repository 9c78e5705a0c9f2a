// Package config resolves the recorder's tunable knobs from flags and
// environment variables, flag taking precedence, following the
// teacher's cmd/relay-server flag+env precedence pattern.
package config

import (
	"os"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/gosuda/netrecorder/internal/handshake"
	"github.com/gosuda/netrecorder/internal/parser"
)

// Config holds every recorder knob resolvable before the first
// connection is observed.
type Config struct {
	IdentityPath  string
	StorePath     string
	PowTarget     float64
	OverflowBound int
}

// RegisterFlags binds Config's fields to fs (typically a cobra command's
// PersistentFlags()), seeding each flag's default from the matching
// environment variable (env: NETRECORDER_*). Call before the command
// executes.
func RegisterFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.IdentityPath, "identity", envOr("NETRECORDER_IDENTITY", "identity.json"),
		"path to the node identity JSON file (env: NETRECORDER_IDENTITY)")
	fs.StringVar(&cfg.StorePath, "store", envOr("NETRECORDER_STORE", "netrecorder.db"),
		"path to the pebble store directory (env: NETRECORDER_STORE)")

	defaultPow := handshake.DefaultPowTarget
	if v := os.Getenv("NETRECORDER_POW_TARGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			defaultPow = f
		}
	}
	fs.Float64Var(&cfg.PowTarget, "pow-target", defaultPow,
		"proof-of-work difficulty target for connection messages (env: NETRECORDER_POW_TARGET)")

	defaultOverflow := parser.PreHandshakeOverflow
	if v := os.Getenv("NETRECORDER_OVERFLOW_BOUND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			defaultOverflow = n
		}
	}
	fs.IntVar(&cfg.OverflowBound, "overflow-bound", defaultOverflow,
		"pre-handshake buffered-byte bound before a direction is forced Uncertain (env: NETRECORDER_OVERFLOW_BOUND)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
