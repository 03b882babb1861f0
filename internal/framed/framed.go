// Package framed adapts a [switchsock.Socket] from raw bytes to decoded
// [dhcp4msg.Message] values: it owns the read/write buffers, skips
// malformed datagrams instead of failing the whole connection, and
// serializes writes so only one encoded datagram is ever in flight at a
// time (spec.md §4.3, grounded on the original implementation's
// single-slot `pending` field in its DhcpFramed sink).
package framed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/netshed/dhcp4/internal/dhcp4msg"
	"github.com/netshed/dhcp4/internal/switchsock"
)

// BufferReadCapacity and BufferWriteCapacity size the read and write
// buffers; they must be large enough for the largest option set a
// message in this system will ever carry.
const (
	BufferReadCapacity  = 8192
	BufferWriteCapacity = 8192
)

// ErrMessageTooLarge is returned by Send when an encoded message doesn't
// fit in the write buffer.
const ErrMessageTooLarge errors.Error = "framed: encoded message exceeds write buffer"

// socket is the subset of [switchsock.Socket] that Framed needs; tests
// supply a fake to exercise the decode-skip and single-pending-send
// behavior without a real link.
type socket interface {
	Recv(ctx context.Context, buf []byte) (n int, src switchsock.Endpoint, err error)
	Send(ctx context.Context, src, dst switchsock.Endpoint, payload []byte) (err error)
}

// Framed reads and writes whole [dhcp4msg.Message] values over a
// [switchsock.Socket].  It is safe for one concurrent reader and one
// concurrent writer; concurrent writers serialize on writeMu.
type Framed struct {
	sock   socket
	logger *slog.Logger

	readBuf []byte

	writeMu  sync.Mutex
	writeBuf []byte
}

// New wraps sock.  logger receives one warning per malformed datagram
// Recv discards.
func New(sock *switchsock.Socket, logger *slog.Logger) *Framed {
	return newFramed(sock, logger)
}

func newFramed(sock socket, logger *slog.Logger) *Framed {
	return &Framed{
		sock:     sock,
		logger:   logger,
		readBuf:  make([]byte, BufferReadCapacity),
		writeBuf: make([]byte, BufferWriteCapacity),
	}
}

// Recv blocks until it decodes a well-formed message, or the underlying
// socket returns an error.  Datagrams that fail to decode are logged and
// skipped, mirroring the original's "continue and try to read next
// packet" policy rather than failing the whole connection.
func (f *Framed) Recv(ctx context.Context) (msg *dhcp4msg.Message, src switchsock.Endpoint, err error) {
	for {
		n, src, err := f.sock.Recv(ctx, f.readBuf)
		if err != nil {
			return nil, switchsock.Endpoint{}, fmt.Errorf("receiving datagram: %w", err)
		}

		msg, decErr := dhcp4msg.Decode(f.readBuf[:n])
		if decErr != nil {
			f.logger.WarnContext(ctx, "discarding malformed dhcp frame",
				"src", src.IP, slogutil.KeyError, decErr)

			continue
		}

		return msg, src, nil
	}
}

// Send encodes msg, bounded by maxSize (0 for no bound; callers that want
// [dhcp4msg.DefaultMaxSize] pass it explicitly), and writes it from src
// to dst.
// writeMu ensures at most one encoded datagram is ever in flight, the Go
// blocking-I/O equivalent of the original's single-slot pending field.
func (f *Framed) Send(ctx context.Context, src, dst switchsock.Endpoint, msg *dhcp4msg.Message, maxSize int) (err error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	data, err := dhcp4msg.Encode(msg, maxSize)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	if len(data) > len(f.writeBuf) {
		return fmt.Errorf("message is %d bytes, buffer holds %d: %w", len(data), len(f.writeBuf), ErrMessageTooLarge)
	}

	n := copy(f.writeBuf, data)

	err = f.sock.Send(ctx, src, dst, f.writeBuf[:n])
	if err != nil {
		return fmt.Errorf("sending datagram to %s: %w", dst.IP, err)
	}

	return nil
}
