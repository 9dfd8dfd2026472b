package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/die-net/sockpuppet/internal/dialer"
	"github.com/die-net/sockpuppet/internal/socks5"
	"github.com/die-net/sockpuppet/internal/target"
)

// Mode selects where sessions are connected.
type Mode string

const (
	// ModeDirect connects each session to the destination it requested.
	ModeDirect Mode = "direct"

	// ModeRedirect ignores the requested destination and connects to the
	// current redirect target.
	ModeRedirect Mode = "redirect"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDirect, ModeRedirect:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want direct or redirect)", s)
	}
}

// RedirectReply selects how a redirected session's CONNECT is answered.
type RedirectReply string

const (
	// ReplyUpstream treats the redirect target as a SOCKS5 server: the
	// client's request is replayed to it and its reply is passed back
	// verbatim.
	ReplyUpstream RedirectReply = "upstream"

	// ReplyLocal answers the client directly and relays raw bytes to the
	// redirect target.
	ReplyLocal RedirectReply = "local"
)

func ParseRedirectReply(s string) (RedirectReply, error) {
	switch r := RedirectReply(s); r {
	case ReplyUpstream, ReplyLocal:
		return r, nil
	default:
		return "", fmt.Errorf("unknown redirect reply %q (want upstream or local)", s)
	}
}

// Resolver picks and opens the upstream connection for a parsed request and
// completes the client-facing reply.
type Resolver struct {
	mode               Mode
	reply              RedirectReply
	target             *target.Register
	dialer             dialer.Dialer
	negotiationTimeout time.Duration
}

func NewResolver(cfg Config) *Resolver {
	d := cfg.Dialer
	if d == nil {
		d = dialer.NewDirectDialer(dialer.Config{KeepAlive: cfg.KeepAlive})
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeDirect
	}
	reply := cfg.RedirectReply
	if reply == "" {
		reply = ReplyUpstream
	}
	return &Resolver{
		mode:               mode,
		reply:              reply,
		target:             cfg.Target,
		dialer:             d,
		negotiationTimeout: cfg.NegotiationTimeout,
	}
}

// Destination returns the address a session requesting req is connected to.
func (r *Resolver) Destination(req *socks5.Request) string {
	if r.mode == ModeRedirect && r.target != nil {
		return r.target.Get()
	}
	return req.Address()
}

// Connect dials the destination for req and writes the SOCKS5 reply to
// client. It returns the upstream connection, ready for relaying, and the
// address it was dialed at. On error nothing has been written to client
// except, in upstream-reply mode, the upstream's own reply.
func (r *Resolver) Connect(ctx context.Context, client io.Writer, req *socks5.Request) (net.Conn, string, error) {
	dst := r.Destination(req)

	up, err := r.dialer.DialContext(ctx, "tcp", dst)
	if err != nil {
		return nil, dst, fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
	}

	if err := r.writeReply(up, client, req); err != nil {
		_ = up.Close()
		return nil, dst, err
	}
	return up, dst, nil
}

func (r *Resolver) writeReply(up net.Conn, client io.Writer, req *socks5.Request) error {
	switch {
	case r.mode == ModeDirect:
		return socks5.WriteSuccessReply(client, socks5.DirectBindAddr)
	case r.reply == ReplyLocal:
		return socks5.WriteSuccessReply(client, socks5.RedirectBindAddr)
	default:
		return r.forwardUpstreamReply(up, client, req)
	}
}

// forwardUpstreamReply greets up as a SOCKS5 server, replays the client's
// raw request, and copies one reply frame back to the client.
func (r *Resolver) forwardUpstreamReply(up net.Conn, client io.Writer, req *socks5.Request) error {
	if r.negotiationTimeout > 0 {
		_ = up.SetDeadline(time.Now().Add(r.negotiationTimeout))
		defer up.SetDeadline(time.Time{}) //nolint:errcheck
	}

	if err := socks5.ClientNegotiate(up, socks5.Auth{}); err != nil {
		return fmt.Errorf("%w: negotiate: %w", ErrUpstreamUnreachable, err)
	}
	if _, err := up.Write(req.Raw); err != nil {
		return fmt.Errorf("%w: replay request: %w", ErrUpstreamUnreachable, err)
	}

	frame, err := socks5.ReadReplyFrame(up)
	if err != nil {
		return fmt.Errorf("%w: read reply: %w", ErrUpstreamUnreachable, err)
	}
	if _, err := client.Write(frame); err != nil {
		return fmt.Errorf("%w: forward reply: %w", socks5.ErrIO, err)
	}
	if frame[1] != socks5.RepSuccess {
		return fmt.Errorf("%w: %w", ErrUpstreamUnreachable, &socks5.ReplyError{Code: frame[1]})
	}
	return nil
}
