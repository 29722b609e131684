package audioio

import (
	"context"
	"io"
)

// streamDepth is the number of chunks buffered between a backend and the
// recorder before chunks are dropped.
const streamDepth = 32

// Source is a microphone feeding the recorder. A source is started once
// per listening session; its stream closes when it stops.
type Source interface {
	// Start begins capture. Starting a running source is a no-op and a
	// closed source returns io.ErrClosedPipe.
	Start(ctx context.Context) error

	// Stream returns the chunk channel of the current session.
	Stream() <-chan Chunk

	// Stop ends the session. It is safe to call repeatedly.
	Stop() error

	Config() Config
	Name() string

	io.Closer
}

// offer hands c to the recorder without blocking the capture loop. It
// reports false when the recorder is behind and the chunk was dropped.
func offer(out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	default:
		return false
	}
}
