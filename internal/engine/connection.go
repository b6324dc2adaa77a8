package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/apsync/internal/metrics"
	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/slotconfig"
	"github.com/roach88/apsync/internal/store"
)

// ConnectionState is the slot connection lifecycle.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateWaitingForSlot
	StateConnected
	StateRefused
)

var stateNames = []string{"disconnected", "connecting", "waiting_for_slot", "connected", "refused"}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Defaults for ConnectionConfig.
const (
	DefaultPollIntervalConnecting = 200 * time.Millisecond
	DefaultPollIntervalConnected  = time.Second
	DefaultHandshakeTimeout       = 10 * time.Second
	DefaultReconnectMin           = time.Second
	DefaultReconnectMax           = 30 * time.Second
)

// ConnectionConfig holds the fixed parameters of a ConnectionManager.
type ConnectionConfig struct {
	// Game is the game name sent in Connect.
	Game string

	// ClientVersion is this client's semver, compared against the world's
	// supported_client_version after the handshake. Empty skips the check.
	ClientVersion string

	// ProtocolVersion is the network protocol version sent in Connect.
	ProtocolVersion protocol.Version

	Tags []string

	// CertFile is a PEM bundle used to verify wss:// servers. When set, the
	// file must exist before a wss:// connection is attempted.
	CertFile string

	PollIntervalConnecting time.Duration
	PollIntervalConnected  time.Duration
	HandshakeTimeout       time.Duration

	// AutoReconnect retries after an unintended drop, waiting ReconnectMin
	// and doubling up to ReconnectMax. A refusal or an explicit Disconnect
	// never retries.
	AutoReconnect bool
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
}

// DefaultConnectionConfig returns the standard pacing for game.
func DefaultConnectionConfig(game string) ConnectionConfig {
	return ConnectionConfig{
		Game:                   game,
		ProtocolVersion:        protocol.NewVersion(0, 6, 2),
		PollIntervalConnecting: DefaultPollIntervalConnecting,
		PollIntervalConnected:  DefaultPollIntervalConnected,
		HandshakeTimeout:       DefaultHandshakeTimeout,
		ReconnectMin:           DefaultReconnectMin,
		ReconnectMax:           DefaultReconnectMax,
	}
}

// Session describes a completed handshake.
type Session struct {
	Key              store.SessionKey
	Team             int
	Slot             int
	CheckedLocations []int64
	MissingLocations []int64
	Config           *slotconfig.Config
}

// SessionListener receives connection events. Methods are called from the
// goroutine that delivered the event, usually the transport's.
type SessionListener interface {
	// SessionStarted is called once per successful handshake.
	SessionStarted(s Session)

	// SessionEnded is called when a connected session ends, or on Disconnect.
	SessionEnded()

	// PacketReceived is called for packets other than the handshake, while connected.
	PacketReceived(p protocol.ServerPacket)
}

// ConnectionManager owns the transport and drives the handshake.
//
// Connect and Disconnect may be called from any goroutine. Poll must be
// called from the consumer goroutine once per tick. Transport callbacks run
// on the transport goroutine and only touch lock-guarded state.
type ConnectionManager struct {
	cfg      ConnectionConfig
	factory  TransportFactory
	identity IdentityStore
	listener SessionListener
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu          sync.Mutex
	state       ConnectionState
	transport   Transport
	gen         uint64 // bumped whenever the transport is replaced
	discard     bool   // transport ended; close it on the next Poll
	startedAt   time.Time
	lastPump    time.Time
	pumped      bool
	server      string
	slotName    string
	password    string
	clientUUID  string
	seed        string
	explicit    bool // last disconnect was requested
	backoff     time.Duration
	retryAt     time.Time
	retryArmed  bool
	retryReason string

	statusMu sync.RWMutex
	status   string

	slotConfig atomic.Pointer[slotconfig.Config]
	session    atomic.Pointer[store.SessionKey]
	slot       atomic.Int64
}

// NewConnectionManager creates a disconnected manager.
func NewConnectionManager(
	cfg ConnectionConfig,
	factory TransportFactory,
	identity IdentityStore,
	listener SessionListener,
	clock Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) *ConnectionManager {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &ConnectionManager{
		cfg:      cfg,
		factory:  factory,
		identity: identity,
		listener: listener,
		clock:    clock,
		logger:   logger.With("component", "connection"),
		metrics:  m,
		status:   "Disconnected",
	}
	c.slot.Store(-1)
	c.metrics.SetConnectionState(StateDisconnected.String(), stateNames)
	return c
}

// Connect starts a connection attempt. It validates the parameters, tears
// down any previous transport and returns without waiting for the network.
func (c *ConnectionManager) Connect(server, slot, password string) error {
	c.mu.Lock()
	c.backoff = 0
	c.retryArmed = false
	c.mu.Unlock()
	return c.connect(server, slot, password)
}

func (c *ConnectionManager) connect(server, slot, password string) error {
	server = strings.TrimSpace(server)
	slot = strings.TrimSpace(slot)
	if server == "" || slot == "" {
		c.setStatus("Server and slot name are required")
		return NewConfigurationError("server and slot name are required")
	}

	uri, host, err := buildURI(server)
	if err != nil {
		c.setStatus("Invalid server address: " + err.Error())
		return err
	}
	if strings.HasPrefix(uri, "wss://") && c.cfg.CertFile != "" {
		if _, err := os.Stat(c.cfg.CertFile); err != nil {
			c.setStatus("Certificate store not found: " + c.cfg.CertFile)
			return NewConfigurationError(fmt.Sprintf("certificate store %s: %v", c.cfg.CertFile, err))
		}
	}

	clientUUID := uuid.NewString()
	if c.identity != nil {
		id, err := c.identity.ClientUUID(context.Background(), host)
		if err != nil {
			c.logger.Warn("client uuid unavailable, using a temporary one", "host", host, "error", err)
		} else {
			clientUUID = id
		}
	}

	t := c.factory()

	c.mu.Lock()
	old := c.transport
	wasConnected := c.state == StateConnected
	c.gen++
	gen := c.gen
	c.transport = t
	c.discard = false
	c.pumped = false
	c.explicit = false
	c.server, c.slotName, c.password = server, slot, password
	c.clientUUID = clientUUID
	c.seed = ""
	c.startedAt = c.clock.Now()
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if wasConnected {
		c.listener.SessionEnded()
	}

	c.setStatus("Connecting...")
	c.logger.Info("connecting", "uri", uri, "slot", slot)

	if err := t.Open(uri, &connHandler{c: c, gen: gen}); err != nil {
		c.fail(gen, err)
		return NewTransportError("open "+uri, err)
	}
	return nil
}

// buildURI adds a scheme to server when it has none. An explicit ws:// or
// wss:// prefix wins; localhost and 127.0.0.1 use ws://; anything else wss://.
func buildURI(server string) (uri, host string, err error) {
	lower := strings.ToLower(server)
	if strings.HasPrefix(lower, "ws://") || strings.HasPrefix(lower, "wss://") {
		u, err := url.Parse(server)
		if err != nil || u.Hostname() == "" {
			return "", "", NewConfigurationError("invalid server address " + server)
		}
		return server, u.Hostname(), nil
	}

	host, port, err := net.SplitHostPort(server)
	if err != nil || host == "" || port == "" {
		return "", "", NewConfigurationError("server address must include a port: " + server)
	}

	scheme := "wss://"
	if strings.HasPrefix(lower, "localhost") || strings.HasPrefix(lower, "127.0.0.1") {
		scheme = "ws://"
	}
	return scheme + server, host, nil
}

// Poll pumps the transport when the state's interval has elapsed, enforces
// the handshake timeout and runs scheduled reconnects. Errors and panics
// from the transport end the connection here instead of propagating.
func (c *ConnectionManager) Poll() {
	var (
		gen     uint64
		pumping bool
	)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("poll panicked", "panic", r)
			err := fmt.Errorf("panic: %v", r)
			if pumping {
				c.fail(gen, err)
			} else {
				c.failCurrent(err)
			}
		}
	}()

	now := c.clock.Now()

	c.mu.Lock()
	if c.discard && c.transport != nil {
		t := c.transport
		c.transport = nil
		c.discard = false
		c.gen++
		c.mu.Unlock()
		_ = t.Close()
		c.mu.Lock()
	}

	if c.state == StateDisconnected && c.retryArmed && !now.Before(c.retryAt) {
		c.retryArmed = false
		server, slot, password := c.server, c.slotName, c.password
		c.mu.Unlock()
		c.metrics.Reconnect()
		c.logger.Info("reconnecting", "server", server)
		if err := c.connect(server, slot, password); err != nil {
			c.logger.Warn("reconnect failed", "error", err)
		}
		return
	}

	if (c.state == StateConnecting || c.state == StateWaitingForSlot) &&
		now.Sub(c.startedAt) > c.cfg.HandshakeTimeout {
		t := c.transport
		c.transport = nil
		c.gen++
		c.setStateLocked(StateDisconnected)
		c.armReconnectLocked(now, "Connection timed out")
		status := c.statusWithRetryLocked("Connection timed out")
		c.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		c.setStatus(status)
		c.logger.Warn("handshake timed out", "error", NewTimeoutError(fmt.Sprintf("no slot connection after %s", c.cfg.HandshakeTimeout)))
		return
	}

	t := c.transport
	if t == nil {
		c.mu.Unlock()
		return
	}
	interval := c.cfg.PollIntervalConnecting
	if c.state == StateConnected {
		interval = c.cfg.PollIntervalConnected
	}
	if c.pumped && now.Sub(c.lastPump) < interval {
		c.mu.Unlock()
		return
	}
	c.pumped = true
	c.lastPump = now
	gen, pumping = c.gen, true
	c.mu.Unlock()

	if err := t.Poll(); err != nil {
		c.fail(gen, err)
	}
}

// fail ends the connection identified by gen.
func (c *ConnectionManager) fail(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.transport == nil {
		c.mu.Unlock()
		return
	}
	prev := c.state
	t := c.transport
	c.transport = nil
	c.gen++
	c.setStateLocked(StateDisconnected)
	msg := "Connection failed: " + err.Error()
	if prev == StateConnected {
		msg = "Connection lost: " + err.Error()
	}
	c.armReconnectLocked(c.clock.Now(), msg)
	status := c.statusWithRetryLocked(msg)
	c.mu.Unlock()

	_ = t.Close()
	c.setStatus(status)
	c.logger.Warn("connection ended", "state", prev.String(), "error", err)
	if prev == StateConnected {
		c.listener.SessionEnded()
	}
}

// failCurrent ends whatever attempt is current. A panic during a scheduled
// reconnect can leave no transport behind; the retry is then re-armed.
func (c *ConnectionManager) failCurrent(err error) {
	c.mu.Lock()
	if c.transport != nil {
		gen := c.gen
		c.mu.Unlock()
		c.fail(gen, err)
		return
	}
	c.setStateLocked(StateDisconnected)
	msg := "Connection failed: " + err.Error()
	c.armReconnectLocked(c.clock.Now(), msg)
	status := c.statusWithRetryLocked(msg)
	c.mu.Unlock()

	c.setStatus(status)
	c.logger.Warn("connection attempt failed", "error", err)
}

// Disconnect closes the connection and cancels any scheduled reconnect.
// Safe to call in any state.
func (c *ConnectionManager) Disconnect() {
	c.mu.Lock()
	t := c.transport
	c.transport = nil
	c.gen++
	c.discard = false
	c.explicit = true
	c.retryArmed = false
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
		c.logger.Info("disconnected")
	}
	c.setStatus("Disconnected")
	c.listener.SessionEnded()
}

func (c *ConnectionManager) armReconnectLocked(now time.Time, reason string) {
	if !c.cfg.AutoReconnect || c.explicit || c.server == "" {
		return
	}
	if c.backoff == 0 {
		c.backoff = c.cfg.ReconnectMin
	}
	c.retryAt = now.Add(c.backoff)
	c.retryArmed = true
	c.retryReason = reason
	c.backoff *= 2
	if c.backoff > c.cfg.ReconnectMax {
		c.backoff = c.cfg.ReconnectMax
	}
}

func (c *ConnectionManager) statusWithRetryLocked(msg string) string {
	if !c.retryArmed {
		return msg
	}
	return fmt.Sprintf("%s (retrying in %s)", msg, c.retryAt.Sub(c.clock.Now()).Round(time.Second))
}

func (c *ConnectionManager) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	c.state = s
	c.metrics.SetConnectionState(s.String(), stateNames)
}

func (c *ConnectionManager) setStatus(s string) {
	c.statusMu.Lock()
	c.status = s
	c.statusMu.Unlock()
}

// Status returns a human-readable description of the connection.
func (c *ConnectionManager) Status() string {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// State returns the current state.
func (c *ConnectionManager) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether a slot connection is established.
func (c *ConnectionManager) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.transport != nil && !c.discard
}

// SlotConfig returns the configuration of the current or last session, or nil.
func (c *ConnectionManager) SlotConfig() *slotconfig.Config {
	return c.slotConfig.Load()
}

// SessionKey returns the key of the current or last session.
func (c *ConnectionManager) SessionKey() (store.SessionKey, bool) {
	k := c.session.Load()
	if k == nil {
		return store.SessionKey{}, false
	}
	return *k, true
}

// Slot returns the slot number of the current or last session, or -1.
func (c *ConnectionManager) Slot() int { return int(c.slot.Load()) }

// UUID returns the client UUID of the current attempt.
func (c *ConnectionManager) UUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientUUID
}

// Send transmits packets over the slot connection.
func (c *ConnectionManager) Send(packets ...protocol.ClientPacket) error {
	c.mu.Lock()
	t := c.transport
	ok := c.state == StateConnected && !c.discard
	c.mu.Unlock()
	if !ok || t == nil {
		return ErrNotConnected
	}
	if err := t.Send(packets...); err != nil {
		return NewTransportError("send", err)
	}
	return nil
}

// RequestSync asks the server to resend the full item history.
func (c *ConnectionManager) RequestSync() error {
	return c.Send(protocol.Sync{})
}

// GameFinished reports goal completion.
func (c *ConnectionManager) GameFinished() error {
	return c.Send(protocol.StatusUpdate{Status: protocol.StatusGoal})
}

// connHandler delivers transport events for one connection attempt.
// Events from a replaced transport are dropped.
type connHandler struct {
	c   *ConnectionManager
	gen uint64
}

func (h *connHandler) SocketConnected() {
	c := h.c
	c.mu.Lock()
	current := h.gen == c.gen
	c.mu.Unlock()
	if current {
		c.logger.Debug("socket open, waiting for room info")
	}
}

func (h *connHandler) SocketClosed(err error) {
	c := h.c
	if err == nil {
		err = errors.New("closed by server")
	}

	c.mu.Lock()
	if h.gen != c.gen || c.transport == nil {
		c.mu.Unlock()
		return
	}
	prev := c.state
	if prev == StateRefused {
		c.mu.Unlock()
		return
	}
	c.discard = true
	c.setStateLocked(StateDisconnected)
	msg := "Connection failed: " + err.Error()
	if prev == StateConnected {
		msg = "Connection lost: " + err.Error()
	}
	c.armReconnectLocked(c.clock.Now(), msg)
	status := c.statusWithRetryLocked(msg)
	c.mu.Unlock()

	c.setStatus(status)
	c.logger.Warn("socket closed", "state", prev.String(), "error", err)
	if prev == StateConnected {
		c.listener.SessionEnded()
	}
}

func (h *connHandler) Packet(p protocol.ServerPacket) {
	switch p := p.(type) {
	case protocol.RoomInfo:
		h.roomInfo(p)
	case protocol.Connected:
		h.connected(p)
	case protocol.ConnectionRefused:
		h.refused(p)
	default:
		c := h.c
		c.mu.Lock()
		deliver := h.gen == c.gen && c.state == StateConnected
		c.mu.Unlock()
		if deliver {
			c.listener.PacketReceived(p)
		} else {
			c.logger.Debug("dropping packet outside session", "cmd", p.Command())
		}
	}
}

func (h *connHandler) roomInfo(p protocol.RoomInfo) {
	c := h.c
	c.mu.Lock()
	if h.gen != c.gen || c.state != StateConnecting || c.transport == nil {
		c.mu.Unlock()
		return
	}
	c.seed = p.SeedName
	c.setStateLocked(StateWaitingForSlot)
	t := c.transport
	connect := protocol.Connect{
		Password:      c.password,
		Game:          c.cfg.Game,
		Name:          c.slotName,
		UUID:          c.clientUUID,
		Version:       c.cfg.ProtocolVersion,
		ItemsHandling: protocol.ItemsHandlingAll,
		Tags:          c.cfg.Tags,
		SlotData:      true,
	}
	c.mu.Unlock()

	c.setStatus("Waiting for slot...")
	c.logger.Info("room info received", "seed", p.SeedName, "server_version", fmt.Sprintf("%d.%d.%d", p.Version.Major, p.Version.Minor, p.Version.Build))
	if err := t.Send(connect); err != nil {
		c.logger.Warn("send connect failed", "error", err)
	}
}

func (h *connHandler) connected(p protocol.Connected) {
	c := h.c
	c.mu.Lock()
	if h.gen != c.gen || c.state != StateWaitingForSlot || c.transport == nil {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateConnected)
	c.backoff = 0
	c.retryArmed = false
	t := c.transport
	key := store.NewSessionKey(c.slotName, c.seed)
	c.mu.Unlock()

	if err := t.Send(
		protocol.ConnectUpdate{ItemsHandling: protocol.ItemsHandlingAll, Tags: c.cfg.Tags},
		protocol.StatusUpdate{Status: protocol.StatusPlaying},
	); err != nil {
		c.logger.Warn("send status update failed", "error", err)
	}

	cfg, err := slotconfig.Resolve(p.SlotData, slotconfig.WithLogger(c.logger))
	if err != nil {
		c.logger.Warn("slot_data unusable, using defaults", "error", err)
	}
	c.slotConfig.Store(cfg)
	c.session.Store(&key)
	c.slot.Store(int64(p.Slot))

	status := "Connected"
	if warning := c.versionWarning(cfg); warning != "" {
		status += " (" + warning + ")"
	}
	c.setStatus(status)
	c.logger.Info("slot connected", "slot", p.Slot, "team", p.Team, "session", key.String(), "checked", len(p.CheckedLocations))

	c.listener.SessionStarted(Session{
		Key:              key,
		Team:             p.Team,
		Slot:             p.Slot,
		CheckedLocations: p.CheckedLocations,
		MissingLocations: p.MissingLocations,
		Config:           cfg,
	})
}

func (c *ConnectionManager) versionWarning(cfg *slotconfig.Config) string {
	if c.cfg.ClientVersion == "" || cfg.SupportedClientVersion == "" {
		return ""
	}
	compat, err := slotconfig.CheckCompatibility(c.cfg.ClientVersion, cfg.SupportedClientVersion)
	if err != nil {
		c.logger.Warn("version check skipped", "error", err)
		return ""
	}
	if compat == slotconfig.Compatible {
		return ""
	}
	c.logger.Warn("client version mismatch",
		"client", c.cfg.ClientVersion,
		"world", cfg.SupportedClientVersion,
		"result", compat.String())
	return fmt.Sprintf("version warning: client %s, world expects %s", c.cfg.ClientVersion, cfg.SupportedClientVersion)
}

func (h *connHandler) refused(p protocol.ConnectionRefused) {
	c := h.c
	c.mu.Lock()
	if h.gen != c.gen || c.transport == nil {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateRefused)
	c.discard = true
	c.retryArmed = false
	c.mu.Unlock()

	c.setStatus("Connection refused: " + p.Reason())
	c.logger.Warn("connection refused", "errors", p.Errors)
}
