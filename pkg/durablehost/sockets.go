package durablehost

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"

	"github.com/golemcloud/golemrt/pkg/apperror"
	"github.com/golemcloud/golemrt/pkg/oplog"
)

// Dialer is the seam outbound socket connects are made through.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Sockets wraps a Dialer as the outbound-sockets host-function group
// (§3 "sockets/http (ReadRemote/WriteRemote)"). Connect is recorded as
// ReadRemote: the socket itself isn't reconstructed on replay (the
// connection doesn't survive a crash regardless), but the
// success/failure outcome the guest observed must replay identically.
// Send is WriteRemote and non-idempotent for the same reason outgoing
// HTTP is: a crash mid-write leaves no delivery guarantee.
type Sockets struct {
	wrapper *Wrapper
	dialer  Dialer
}

// NewSockets binds a durability wrapper to a Dialer.
func NewSockets(w *Wrapper, dialer Dialer) *Sockets {
	return &Sockets{wrapper: w, dialer: dialer}
}

type connectResult struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// Connect dials network/address, recording only whether it succeeded.
// The live net.Conn is returned only for immediate use by the caller
// in this invocation; it is never itself an oplog-replayable value.
func (s *Sockets) Connect(ctx context.Context, network, address string) (net.Conn, error) {
	var conn net.Conn
	response, err := s.wrapper.Do(ctx, "sockets::connect", Options{Kind: oplog.ReadRemote}, func(ctx context.Context) ([]byte, error) {
		c, dialErr := s.dialer.DialContext(ctx, network, address)
		if dialErr != nil {
			return json.Marshal(connectResult{Connected: false, Error: dialErr.Error()})
		}
		conn = c
		return json.Marshal(connectResult{Connected: true})
	})
	if err != nil {
		return nil, err
	}

	var result connectResult
	if err := json.Unmarshal(response, &result); err != nil {
		return nil, apperror.New(apperror.CodeOplogCorruption, "sockets: decode recorded connect result")
	}
	if !result.Connected {
		return nil, apperror.Transient(errSocketConnectFailed(result.Error), "sockets: connect")
	}
	if conn == nil {
		// Replay path: the recorded outcome was success but there is no
		// live connection to hand back, since the prior run's socket did
		// not survive the crash. Callers on replay only reach this point
		// while still inside the same invocation that will immediately
		// redo the surrounding network I/O live, so an absent conn here
		// signals the caller to treat this as a fresh dial instead.
		return nil, apperror.New(apperror.CodeNonDeterministicReplay, "sockets: connect replayed without a live connection")
	}
	return conn, nil
}

type errSocketConnectFailed string

func (e errSocketConnectFailed) Error() string { return string(e) }

// Send writes data to conn as a non-idempotent WriteRemote effect.
func (s *Sockets) Send(ctx context.Context, conn net.Conn, data []byte) (int, error) {
	response, err := s.wrapper.Do(ctx, "sockets::send", Options{Kind: oplog.WriteRemote, NonIdempotentRemote: true}, func(ctx context.Context) ([]byte, error) {
		n, writeErr := conn.Write(data)
		if writeErr != nil {
			return nil, apperror.Transient(writeErr, "sockets: write")
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(n))
		return buf, nil
	})
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint32(response)), nil
}
