package proxy

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/sockpuppet/internal/dialer"
	"github.com/die-net/sockpuppet/internal/metrics"
	"github.com/die-net/sockpuppet/internal/target"
)

type Config struct {
	Mode          Mode
	RedirectReply RedirectReply

	// Target is consulted for every new session in redirect mode.
	Target *target.Register

	Dialer dialer.Dialer

	// NegotiationTimeout bounds the SOCKS5 handshake with the client and,
	// for upstream replies, with the redirect target. Zero disables it.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	Log     logrus.FieldLogger
	Metrics *metrics.Metrics
}
