package engine

import (
	"context"

	"github.com/roach88/apsync/internal/protocol"
	"github.com/roach88/apsync/internal/store"
)

// Transport is a message-framed connection to the server.
//
// Open must not block on network I/O: the dial and the read loop run on the
// transport's own goroutine and report through the Handler. Poll is called
// from the consumer goroutine at the ConnectionManager's pace; it returns the
// error that ended the connection, if any. Close never invokes the Handler.
type Transport interface {
	Open(uri string, h protocol.Handler) error
	Send(packets ...protocol.ClientPacket) error
	Poll() error
	Close() error
}

// TransportFactory creates an unopened Transport for each connection attempt.
type TransportFactory func() Transport

// IdentityStore provides the client UUID presented to a server host.
type IdentityStore interface {
	ClientUUID(ctx context.Context, host string) (string, error)
}

// ProgressStore persists the applied item high-water index.
type ProgressStore interface {
	LoadItemIndex(ctx context.Context, key store.SessionKey) (int64, error)
	SaveItemIndex(ctx context.Context, key store.SessionKey, idx int64) error
}

// CheckJournal persists transmitted location ids.
type CheckJournal interface {
	RecordSentChecks(ctx context.Context, key store.SessionKey, ids ...int64) error
	SentChecks(ctx context.Context, key store.SessionKey) ([]int64, error)
}

// Store is everything the engine persists.
type Store interface {
	IdentityStore
	ProgressStore
	CheckJournal
}

// PacketSender sends packets over the active slot connection.
type PacketSender interface {
	Send(packets ...protocol.ClientPacket) error
	IsConnected() bool
}
