package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/store"
	"github.com/roach88/apsync/internal/testutil"
)

// fakeSender records packets and reports a fixed connection state.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      [][]protocol.ClientPacket
}

func (s *fakeSender) Send(packets ...protocol.ClientPacket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrNotConnected
	}
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, packets)
	return nil
}

func (s *fakeSender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSender) checkFrames() [][]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]int64
	for _, frame := range s.sent {
		for _, p := range frame {
			if lc, ok := p.(protocol.LocationChecks); ok {
				out = append(out, lc.Locations)
			}
		}
	}
	return out
}

func (s *fakeSender) count(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, frame := range s.sent {
		for _, p := range frame {
			if p.Command() == cmd {
				n++
			}
		}
	}
	return n
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	index   map[store.SessionKey]int64
	checks  map[store.SessionKey][]int64
	uuids   map[string]string
	saveErr error
	saves   int
}

func newMemStore() *memStore {
	return &memStore{
		index:  make(map[store.SessionKey]int64),
		checks: make(map[store.SessionKey][]int64),
		uuids:  make(map[string]string),
	}
}

func (m *memStore) ClientUUID(_ context.Context, host string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.uuids[host]
	if !ok {
		id = uuid.NewString()
		m.uuids[host] = id
	}
	return id, nil
}

func (m *memStore) LoadItemIndex(_ context.Context, key store.SessionKey) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.index[key]
	if !ok {
		return store.NoProgress, nil
	}
	return idx, nil
}

func (m *memStore) SaveItemIndex(_ context.Context, key store.SessionKey, idx int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	if cur, ok := m.index[key]; !ok || idx > cur {
		m.index[key] = idx
	}
	return nil
}

func (m *memStore) RecordSentChecks(_ context.Context, key store.SessionKey, ids ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if !slices.Contains(m.checks[key], id) {
			m.checks[key] = append(m.checks[key], id)
		}
	}
	return nil
}

func (m *memStore) SentChecks(_ context.Context, key store.SessionKey) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Clone(m.checks[key])
	slices.Sort(ids)
	return ids, nil
}

// recordingListener records connection events.
type recordingListener struct {
	mu      sync.Mutex
	started []Session
	ended   int
	packets []protocol.ServerPacket
}

func (l *recordingListener) SessionStarted(s Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, s)
}

func (l *recordingListener) SessionEnded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended++
}

func (l *recordingListener) PacketReceived(p protocol.ServerPacket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packets = append(l.packets, p)
}

func (l *recordingListener) sessions() []Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.started)
}

func (l *recordingListener) endedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ended
}

// connFixture is a ConnectionManager over scripted transports.
type connFixture struct {
	conn       *ConnectionManager
	clock      *testutil.FakeClock
	listener   *recordingListener
	store      *memStore
	transports []*testutil.ScriptedTransport
	script     [][]testutil.Step
	factoryErr string // when set, the factory panics with it
}

// newConnFixture creates a manager whose n-th transport plays scripts[n].
func newConnFixture(t *testing.T, cfg ConnectionConfig, scripts ...[]testutil.Step) *connFixture {
	t.Helper()
	f := &connFixture{
		clock:    testutil.NewFakeClock(),
		listener: &recordingListener{},
		store:    newMemStore(),
		script:   scripts,
	}
	factory := func() Transport {
		if f.factoryErr != "" {
			panic(f.factoryErr)
		}
		var steps []testutil.Step
		if n := len(f.transports); n < len(f.script) {
			steps = f.script[n]
		}
		tr := testutil.NewScriptedTransport(steps...)
		f.transports = append(f.transports, tr)
		return tr
	}
	f.conn = NewConnectionManager(cfg, factory, f.store, f.listener, f.clock, nil, nil)
	return f
}

// last returns the most recently created transport.
func (f *connFixture) last() *testutil.ScriptedTransport {
	return f.transports[len(f.transports)-1]
}

// handshake returns the standard two-step handshake script.
func handshake(checked ...int64) []testutil.Step {
	return []testutil.Step{
		testutil.RoomInfoStep("4242"),
		testutil.ConnectedStep(1, checked, `{"RandomizeShops":true}`),
	}
}

var errTest = errors.New("test failure")
