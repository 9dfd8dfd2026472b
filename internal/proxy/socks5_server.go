package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/die-net/sockpuppet/internal/socks5"
)

// SOCKS5Server accepts client connections and runs one independent session
// per connection.
type SOCKS5Server struct {
	ctx      context.Context
	cfg      Config
	resolver *Resolver
	log      logrus.FieldLogger
}

// NewSOCKS5Server constructs a server. Canceling ctx tears down in-flight
// sessions; closing the listener passed to Serve stops accepting.
func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SOCKS5Server{
		ctx:      ctx,
		cfg:      cfg,
		resolver: NewResolver(cfg),
		log:      log.WithField("component", "socks5"),
	}
}

// Serve accepts connections on ln until Accept fails. There is no limit on
// concurrent sessions.
func (s *SOCKS5Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		s.cfg.Metrics.ConnAccepted()
		go s.handleConn(c)
	}
}

func (s *SOCKS5Server) handleConn(conn net.Conn) {
	defer conn.Close()

	s.cfg.Metrics.SessionStarted()
	entry := s.log.WithField("client", conn.RemoteAddr().String())

	err := s.serveConnRecover(conn, entry)
	if err != nil && s.ctx.Err() != nil && errors.Is(err, s.ctx.Err()) {
		s.cfg.Metrics.SessionDone(KindOK)
		entry.WithError(err).Debug("session closed on shutdown")
		return
	}
	kind := ErrorKind(err)
	s.cfg.Metrics.SessionDone(kind)

	if err != nil {
		entry.WithError(err).WithField("kind", kind).Warn("session failed")
		return
	}
	entry.Debug("session closed")
}

func (s *SOCKS5Server) serveConnRecover(conn net.Conn, entry logrus.FieldLogger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("stack", string(debug.Stack())).Errorf("panic in session: %v", r)
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return s.serveConn(conn, entry)
}

func (s *SOCKS5Server) serveConn(conn net.Conn, entry logrus.FieldLogger) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	req, err := socks5.ServerHandshake(conn)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	// The client deadline covers only the handshake. The dial and the
	// upstream exchange are bounded by the dialer and resolver.
	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	up, dst, err := s.resolver.Connect(ctx, conn, req)
	if err != nil {
		return fmt.Errorf("connect %s via %s: %w", req.Address(), dst, err)
	}

	entry.WithFields(logrus.Fields{
		"dst":      req.Address(),
		"upstream": dst,
	}).Debug("SOCKS5 connection established")

	return CopyBidirectional(ctx, conn, up, s.cfg.Metrics)
}
