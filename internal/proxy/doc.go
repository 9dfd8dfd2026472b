// Package proxy implements the client-facing SOCKS5 listener.
//
// A session runs the handshake from internal/socks5, resolves the upstream
// endpoint (the requested destination, or the shared redirect target), and
// then relays bytes in both directions until either side finishes. The
// package also holds the listener and copy plumbing shared with the control
// endpoint.
package proxy
