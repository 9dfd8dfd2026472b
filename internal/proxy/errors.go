package proxy

import (
	"errors"

	"github.com/die-net/sockpuppet/internal/socks5"
	"github.com/die-net/sockpuppet/internal/target"
)

// ErrUpstreamUnreachable reports a failure to connect to, or complete the
// handshake with, the endpoint chosen for a session.
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

var errPanic = errors.New("session panic")

// Error kinds, used as log fields and metric labels.
const (
	KindOK                  = "ok"
	KindProtocol            = "protocol"
	KindIO                  = "io"
	KindUpstreamUnreachable = "upstream_unreachable"
	KindInvalidTarget       = "invalid_target"
	KindPanic               = "panic"
)

// ErrorKind classifies err. Anything not otherwise recognized is an I/O
// error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return KindOK
	case errors.Is(err, errPanic):
		return KindPanic
	case errors.Is(err, ErrUpstreamUnreachable):
		return KindUpstreamUnreachable
	case errors.Is(err, socks5.ErrProtocol):
		return KindProtocol
	case errors.Is(err, target.ErrInvalidFormat):
		return KindInvalidTarget
	default:
		return KindIO
	}
}
