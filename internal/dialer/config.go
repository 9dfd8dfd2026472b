package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect. Zero means no timeout
	// beyond the operating system's.
	DialTimeout time.Duration

	// NegotiationTimeout bounds the SOCKS5 exchange with a chained proxy.
	// Zero disables it.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
