// Command recorder wires a node identity, a durable store, and the
// chunk-parser pipeline together, then watches a simple newline-delimited
// capture feed on stdin. Real packet capture and TCP reassembly live
// upstream of this process and are out of scope here (spec.md §1); this
// binary only does the wiring spec.md §1 leaves to "a CLI".
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/netrecorder/internal/config"
	"github.com/gosuda/netrecorder/internal/identity"
	"github.com/gosuda/netrecorder/internal/recorder"
	"github.com/gosuda/netrecorder/internal/session"
	"github.com/gosuda/netrecorder/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "recorder",
	Short: "Passive chunk-parser recorder for a peer-to-peer blockchain node",
	RunE:  runRecorder,
}

var cfg config.Config

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags(), &cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

// event is one line of the newline-delimited capture feed: a connection
// key plus the direction and payload bytes observed on it. "open" and
// "close" control lines manage the connection's lifetime; "data" lines
// carry a base64 payload.
type event struct {
	Kind       string `json:"kind"` // "open", "data", "close"
	LocalAddr  string `json:"local_addr"`
	RemAddr    string `json:"remote_addr"`
	Initiator  bool   `json:"initiator,omitempty"`
	Direction  string `json:"direction,omitempty"` // "local" or "remote"
	PayloadB64 string `json:"payload,omitempty"`
}

func runRecorder(cmd *cobra.Command, args []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	id, err := identity.Load(cfg.IdentityPath)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.Info().Str("peer_id", id.PeerID).Msg("identity loaded")

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("close store")
		}
	}()

	reg := session.New(id, cfg.PowTarget, cfg.OverflowBound, st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return watchFeed(ctx, os.Stdin, reg)
}

// watchFeed scans newline-delimited capture events from r until it hits
// EOF or ctx is cancelled by a shutdown signal.
func watchFeed(ctx context.Context, r io.Reader, reg *session.Registry) error {
	keys := make(map[string]recorder.Key)
	feed := bufio.NewScanner(r)
	feed.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for feed.Scan() {
			lines <- feed.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutdown signal received")
			return nil
		case line, ok := <-lines:
			if !ok {
				return feed.Err()
			}
			var ev event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				log.Warn().Err(err).Msg("malformed capture event, skipping")
				continue
			}
			handleEvent(reg, keys, ev)
		}
	}
}

func handleEvent(reg *session.Registry, keys map[string]recorder.Key, ev event) {
	connID := ev.LocalAddr + "|" + ev.RemAddr
	switch ev.Kind {
	case "open":
		keys[connID] = reg.Open(ev.LocalAddr, ev.RemAddr, ev.Initiator)
	case "data":
		key, ok := keys[connID]
		if !ok {
			log.Warn().Str("conn", connID).Msg("data for unopened connection")
			return
		}
		payload, err := base64.StdEncoding.DecodeString(ev.PayloadB64)
		if err != nil {
			log.Warn().Err(err).Msg("malformed base64 payload, skipping")
			return
		}
		dir := recorder.Remote
		if ev.Direction == "local" {
			dir = recorder.Local
		}
		reg.Payload(key, dir, payload)
	case "close":
		if key, ok := keys[connID]; ok {
			reg.Close(key)
			delete(keys, connID)
		}
	default:
		log.Warn().Str("kind", ev.Kind).Msg("unknown capture event kind")
	}
}
