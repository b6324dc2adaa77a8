// Package transport provides the WebSocket connection used by the engine.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/apsync/internal/protocol"
)

// Errors returned by Send.
var (
	ErrNotOpen = errors.New("transport: socket not open")
	ErrClosed  = errors.New("transport: closed")
)

// Defaults for a WebSocket.
const (
	DefaultDialTimeout  = 10 * time.Second
	DefaultWriteTimeout = 5 * time.Second
	DefaultReadLimit    = 16 << 20
)

// WebSocket is a client connection to an Archipelago server. One WebSocket
// serves one connection attempt; create a new one to reconnect.
//
// Open returns at once. The dial and the read loop run on a goroutine of
// their own, and the Handler is called from that goroutine.
type WebSocket struct {
	logger       *slog.Logger
	certFile     string
	dialTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
	err    error // why the connection ended, if it did
	done   chan struct{}

	writeMu sync.Mutex
}

// Option configures a WebSocket.
type Option func(*WebSocket)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *WebSocket) { w.logger = l }
}

// WithCertFile verifies wss:// servers against the PEM bundle at path
// instead of the system roots.
func WithCertFile(path string) Option {
	return func(w *WebSocket) { w.certFile = path }
}

// WithDialTimeout bounds the WebSocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(w *WebSocket) { w.dialTimeout = d }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(w *WebSocket) { w.writeTimeout = d }
}

// WithReadLimit caps the size of an incoming frame.
func WithReadLimit(n int64) Option {
	return func(w *WebSocket) { w.readLimit = n }
}

// New creates an unopened WebSocket.
func New(opts ...Option) *WebSocket {
	w := &WebSocket{
		logger:       slog.Default(),
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
		readLimit:    DefaultReadLimit,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "transport")
	return w
}

// Open starts dialing uri. Errors in the TLS setup are returned directly;
// network errors are reported through h.SocketClosed and Poll.
func (w *WebSocket) Open(uri string, h protocol.Handler) error {
	dialer, err := w.dialer()
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.cancel != nil {
		return fmt.Errorf("transport: already opened")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	go w.run(ctx, dialer, uri, h)
	return nil
}

func (w *WebSocket) dialer() (*websocket.Dialer, error) {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = w.dialTimeout
	if w.certFile == "" {
		return &d, nil
	}

	data, err := os.ReadFile(w.certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate store: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("certificate store %s holds no PEM certificates", w.certFile)
	}
	d.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return &d, nil
}

func (w *WebSocket) run(ctx context.Context, d *websocket.Dialer, uri string, h protocol.Handler) {
	defer close(w.done)

	conn, _, err := d.DialContext(ctx, uri, nil)
	if err != nil {
		w.finish(h, fmt.Errorf("dial %s: %w", uri, err))
		return
	}
	conn.SetReadLimit(w.readLimit)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return
	}
	w.conn = conn
	w.mu.Unlock()

	w.logger.Debug("socket open", "uri", uri)
	h.SocketConnected()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.finish(h, err)
			return
		}
		packets, err := protocol.DecodeServerMessage(data)
		if err != nil {
			w.logger.Warn("dropping undecodable frame", "bytes", len(data), "error", err)
			continue
		}
		for _, p := range packets {
			if w.isClosed() {
				return
			}
			h.Packet(p)
		}
	}
}

// finish records err and reports it, unless the socket was closed locally.
func (w *WebSocket) finish(h protocol.Handler, err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.err = err
	w.mu.Unlock()

	w.logger.Debug("socket ended", "error", err)
	h.SocketClosed(err)
}

func (w *WebSocket) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Send writes packets as one frame.
func (w *WebSocket) Send(packets ...protocol.ClientPacket) error {
	frame, err := protocol.EncodeClientMessage(packets...)
	if err != nil {
		return err
	}

	w.mu.Lock()
	conn, closed := w.conn, w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotOpen
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Poll returns the error that ended the connection, or nil while it is
// alive. Frames are delivered by the read goroutine, so Poll does no I/O.
func (w *WebSocket) Poll() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close cancels a pending dial and closes the socket. The Handler is not
// called afterwards. Close does not wait for the close handshake.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.cancel != nil {
		w.cancel()
	}
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	go func() {
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		_ = conn.Close()
	}()
	return nil
}

// Done is closed when the read goroutine has exited.
func (w *WebSocket) Done() <-chan struct{} {
	return w.done
}
