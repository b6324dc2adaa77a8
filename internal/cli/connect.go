package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/apsync/internal/config"
	"github.com/roach88/apsync/internal/engine"
	"github.com/roach88/apsync/internal/metrics"
	"github.com/roach88/apsync/internal/rewards"
	"github.com/roach88/apsync/internal/store"
	"github.com/roach88/apsync/internal/transport"
)

// ConnectOptions holds the flags shared by commands that talk to a server.
// Flags left unset fall back to the APSYNC_* environment.
type ConnectOptions struct {
	Server           string
	Slot             string
	Password         string
	Database         string
	CertFile         string
	HandshakeTimeout time.Duration

	// Transport overrides the WebSocket transport (for testing).
	Transport engine.TransportFactory
}

func addConnectFlags(cmd *cobra.Command, o *ConnectOptions) {
	f := cmd.Flags()
	f.StringVarP(&o.Server, "server", "s", "", "server address, host:port or ws(s):// URI (APSYNC_SERVER)")
	f.StringVar(&o.Slot, "slot", "", "slot name (APSYNC_SLOT)")
	f.StringVar(&o.Password, "password", "", "room password (APSYNC_PASSWORD)")
	f.StringVar(&o.Database, "db", "", "path to the SQLite progress database (APSYNC_DB)")
	f.StringVar(&o.CertFile, "cert-file", "", "PEM bundle trusted for wss:// servers (APSYNC_CERT_FILE)")
	f.DurationVar(&o.HandshakeTimeout, "handshake-timeout", 0, "give up on a handshake after this long (APSYNC_HANDSHAKE_TIMEOUT)")
}

// loadConfig reads the environment and applies the flags the user set.
func loadConfig(cmd *cobra.Command, o *ConnectOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	f := cmd.Flags()
	for name, apply := range map[string]func(){
		"server":            func() { cfg.Server = o.Server },
		"slot":              func() { cfg.Slot = o.Slot },
		"password":          func() { cfg.Password = o.Password },
		"db":                func() { cfg.Database = o.Database },
		"cert-file":         func() { cfg.CertFile = o.CertFile },
		"handshake-timeout": func() { cfg.HandshakeTimeout = o.HandshakeTimeout },
	} {
		if f.Changed(name) {
			apply()
		}
	}
	return cfg, cfg.Validate()
}

// session bundles what a connected command needs and releases it in Close.
type session struct {
	logger   *slog.Logger
	store    *store.Store
	registry *prometheus.Registry
	engine   *engine.Engine
}

func openSession(cfg config.Config, o *ConnectOptions, logger *slog.Logger, sink rewards.Sink, autoReconnect bool) (*session, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	factory := o.Transport
	if factory == nil {
		factory = func() engine.Transport {
			return transport.New(transport.WithLogger(logger), transport.WithCertFile(cfg.CertFile))
		}
	}

	reg := prometheus.NewRegistry()
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(metrics.New(reg)),
		engine.WithGame(cfg.Game),
		engine.WithTags(cfg.Tags...),
		engine.WithCertFile(cfg.CertFile),
		engine.WithPollIntervals(cfg.PollConnecting, cfg.PollConnected),
		engine.WithHandshakeTimeout(cfg.HandshakeTimeout),
		engine.WithAutoReconnect(autoReconnect),
	}
	if cfg.ClientVersion != "" {
		opts = append(opts, engine.WithClientVersion(cfg.ClientVersion))
	}

	eng, err := engine.New(factory, st, sink, opts...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &session{logger: logger, store: st, registry: reg, engine: eng}, nil
}

func (s *session) Close() {
	s.engine.Close()
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// handshakeError reports why a connection attempt ended.
type handshakeError struct {
	State  engine.ConnectionState
	Status string
}

func (e *handshakeError) Error() string { return e.Status }

// awaitConnected ticks the engine until the handshake finishes or fails.
// Without auto-reconnect a failed attempt leaves the engine Disconnected.
func (s *session) awaitConnected(ctx context.Context, tick time.Duration) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		if err := s.engine.Tick(); err != nil {
			s.logger.Warn("tick finished with errors", "error", err)
		}
		switch state := s.engine.State(); state {
		case engine.StateConnected:
			return nil
		case engine.StateRefused, engine.StateDisconnected:
			return &handshakeError{State: state, Status: s.engine.Status()}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// stderrLogger builds the logger for cmd from cfg and the root flags.
func stderrLogger(opts *RootOptions, cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level, _ := cfg.Level()
	return opts.logger(cmd.ErrOrStderr(), level)
}
