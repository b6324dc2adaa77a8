package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/apsync/internal/metrics"
	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/rewards"
	"github.com/roach88/apsync/internal/slotconfig"
	"github.com/roach88/apsync/internal/store"
)

// DefaultGame is the game name presented to the server.
const DefaultGame = "Okami HD"

// DefaultTickInterval is the Run loop period.
const DefaultTickInterval = 16 * time.Millisecond

// Engine wires the components for one server connection and one slot.
//
// Thread-safety model:
//   - Tick(), Run() and ScoutSync(): consumer goroutine only
//   - everything else: safe from any goroutine
//
// Transport callbacks never touch game state. They enqueue tasks that run
// in Tick, so the Sink is only ever called from the consumer goroutine.
type Engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	catalog *rewards.Catalog
	sink    rewards.Sink
	store   Store

	tasks   *TaskQueue
	conn    *ConnectionManager
	checks  *CheckDeduplicator
	items   *ItemTracker
	rewards *RewardQueue
	scouts  *ScoutCoordinator

	mu       sync.Mutex
	gameplay bool
	session  bool // a session has been loaded and not yet ended
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	clock   Clock
	metrics *metrics.Metrics
	catalog *rewards.Catalog
	conn    ConnectionConfig
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the time source used for poll pacing and timeouts.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCatalog replaces the built-in item catalog.
func WithCatalog(c *rewards.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithGame sets the game name sent in Connect.
func WithGame(game string) Option {
	return func(o *options) { o.conn.Game = game }
}

// WithClientVersion enables the world version check.
func WithClientVersion(v string) Option {
	return func(o *options) { o.conn.ClientVersion = v }
}

// WithTags sets the tags sent in Connect and ConnectUpdate.
func WithTags(tags ...string) Option {
	return func(o *options) { o.conn.Tags = tags }
}

// WithCertFile sets the PEM bundle required for wss:// servers.
func WithCertFile(path string) Option {
	return func(o *options) { o.conn.CertFile = path }
}

// WithPollIntervals sets the pump pacing before and after the handshake.
func WithPollIntervals(connecting, connected time.Duration) Option {
	return func(o *options) {
		o.conn.PollIntervalConnecting = connecting
		o.conn.PollIntervalConnected = connected
	}
}

// WithHandshakeTimeout bounds Connecting and WaitingForSlot.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.conn.HandshakeTimeout = d }
}

// WithAutoReconnect retries dropped connections with backoff.
func WithAutoReconnect(enabled bool) Option {
	return func(o *options) { o.conn.AutoReconnect = enabled }
}

// New creates an Engine. st may be nil, in which case nothing is persisted.
func New(factory TransportFactory, st Store, sink rewards.Sink, opts ...Option) (*Engine, error) {
	o := options{
		logger: slog.Default(),
		clock:  SystemClock(),
		conn:   DefaultConnectionConfig(DefaultGame),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if factory == nil {
		return nil, NewConfigurationError("transport factory is required")
	}
	if sink == nil {
		return nil, NewConfigurationError("reward sink is required")
	}
	if o.catalog == nil {
		c, err := rewards.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("load item catalog: %w", err)
		}
		o.catalog = c
	}

	e := &Engine{
		logger:  o.logger.With("component", "engine"),
		metrics: o.metrics,
		catalog: o.catalog,
		sink:    sink,
		store:   st,
	}

	var (
		identity IdentityStore
		progress ProgressStore
		journal  CheckJournal
	)
	if st != nil {
		identity, progress, journal = st, st, st
	}

	e.tasks = NewTaskQueue(o.logger, o.metrics)
	e.conn = NewConnectionManager(o.conn, factory, identity, e, o.clock, o.logger, o.metrics)
	e.checks = NewCheckDeduplicator(e.conn, journal, o.logger, o.metrics)
	e.rewards = NewRewardQueue(e.grant, e.checks.Suspend, o.logger, o.metrics)
	e.items = NewItemTracker(progress, e.rewards.Enqueue, e, e.catalog.Name, o.logger, o.metrics)
	e.scouts = NewScoutCoordinator(e.conn, e.conn.Poll, o.logger)
	return e, nil
}

func (e *Engine) grant(r QueuedReward) error {
	reward, err := e.catalog.Resolve(r.APItemID)
	if err != nil {
		return err
	}
	return rewards.Dispatch(e.sink, reward)
}

// Connect starts connecting to server as slot. It does not wait for the handshake.
func (e *Engine) Connect(server, slot, password string) error {
	return e.conn.Connect(server, slot, password)
}

// Disconnect ends the session, releases a waiting scout and closes every gate.
func (e *Engine) Disconnect() {
	e.conn.Disconnect()
}

// Close disconnects and stops accepting tasks.
func (e *Engine) Close() {
	e.conn.Disconnect()
	e.tasks.Close()
}

// SetGameplayActive reports whether the player is in active gameplay.
// Checks and rewards flow only while this is true and a session is loaded.
func (e *Engine) SetGameplayActive(active bool) {
	e.mu.Lock()
	e.gameplay = active
	e.mu.Unlock()
	e.applyGates()
}

func (e *Engine) applyGates() {
	e.mu.Lock()
	open := e.gameplay && e.session
	e.mu.Unlock()
	e.checks.EnableSending(open)
	e.rewards.SetGrantingEnabled(open)
}

// Tick pumps the network, runs queued tasks and grants rewards.
// It returns the reward errors of this tick, if any.
func (e *Engine) Tick() error {
	e.conn.Poll()
	e.tasks.Drain()
	_, err := e.rewards.ProcessQueued()
	return err
}

// Run calls Tick every interval until ctx is done. Reward errors are logged.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("engine running", "tick", interval)
	for {
		if err := e.Tick(); err != nil {
			e.logger.Warn("tick finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SendCheck reports a location check. It returns true if this call sent it.
func (e *Engine) SendCheck(id int64) bool {
	return e.checks.SendCheck(id)
}

// RequestSync asks the server for the full item history.
func (e *Engine) RequestSync() error {
	return e.conn.RequestSync()
}

// ResendAllChecks retransmits every check sent this session.
func (e *Engine) ResendAllChecks() {
	e.checks.ResendAllChecks()
}

// GameFinished reports the goal as complete.
func (e *Engine) GameFinished() error {
	return e.conn.GameFinished()
}

// ScoutSync asks what is placed at locations and waits up to timeout.
// Consumer goroutine only: it pumps the connection while waiting.
func (e *Engine) ScoutSync(ctx context.Context, locations []int64, hint protocol.HintMode, timeout time.Duration) ([]protocol.NetworkItem, error) {
	return e.scouts.ScoutSync(ctx, locations, hint, timeout)
}

// QueueReward grants apItemID on a later tick, outside the item stream.
func (e *Engine) QueueReward(apItemID int64) {
	e.rewards.QueueReward(apItemID, e.catalog.Name(apItemID))
}

func (e *Engine) Status() string                       { return e.conn.Status() }
func (e *Engine) State() ConnectionState               { return e.conn.State() }
func (e *Engine) IsConnected() bool                    { return e.conn.IsConnected() }
func (e *Engine) SlotConfig() *slotconfig.Config       { return e.conn.SlotConfig() }
func (e *Engine) SessionKey() (store.SessionKey, bool) { return e.conn.SessionKey() }
func (e *Engine) Slot() int                            { return e.conn.Slot() }
func (e *Engine) AppliedIndex() int64                  { return e.items.Applied() }
func (e *Engine) PendingRewards() int                  { return e.rewards.Len() }
func (e *Engine) SentChecks() []int64                  { return e.checks.SentChecks() }
func (e *Engine) Catalog() *rewards.Catalog            { return e.catalog }

// SessionStarted loads the persisted state of the session on the consumer
// goroutine, reconciles checks with the server and arms the gates.
func (e *Engine) SessionStarted(s Session) {
	e.tasks.Enqueue("load session", func() error {
		ctx := context.Background()
		if err := e.items.Load(ctx, s.Key); err != nil {
			e.logger.Warn("item progress unavailable, starting from scratch", "error", err)
		}

		var journaled []int64
		if e.store != nil && s.Key.Valid() {
			ids, err := e.store.SentChecks(ctx, s.Key)
			if err != nil {
				e.logger.Warn("check journal unavailable", "error", err)
			}
			journaled = ids
		}
		e.checks.Restore(s.Key, journaled)
		e.checks.SyncWithServer(s.CheckedLocations)

		e.mu.Lock()
		e.session = true
		e.mu.Unlock()
		e.applyGates()

		e.logger.Info("session loaded",
			"session", s.Key.String(),
			"last_index", e.items.Applied(),
			"checks", len(e.checks.SentChecks()))
		return nil
	})
}

// SessionEnded closes the gates at once; buffered items are dropped on the
// next tick.
func (e *Engine) SessionEnded() {
	e.scouts.Cancel()
	e.mu.Lock()
	e.session = false
	e.mu.Unlock()
	e.applyGates()
	e.tasks.Enqueue("end session", func() error {
		e.items.Reset()
		return nil
	})
}

// PacketReceived routes session packets. Called on the transport goroutine.
func (e *Engine) PacketReceived(p protocol.ServerPacket) {
	switch p := p.(type) {
	case protocol.ReceivedItems:
		e.tasks.Enqueue("received items", func() error {
			return e.items.OnItemsReceived(context.Background(), p.Items)
		})
	case protocol.LocationInfo:
		e.scouts.Complete(p.Locations)
	case protocol.RoomUpdate:
		if len(p.CheckedLocations) == 0 {
			return
		}
		e.tasks.Enqueue("room update", func() error {
			e.checks.MarkConfirmed(p.CheckedLocations)
			return nil
		})
	case protocol.PrintJSON:
		e.logger.Info("server message", "type", p.Type, "text", p.Text())
	default:
		e.logger.Debug("ignoring packet", "cmd", p.Command())
	}
}
