// Package socks5 implements the subset of the SOCKS5 wire protocol sockpuppet
// speaks: the server side of a no-auth CONNECT handshake, the fixed success
// replies, and the client-side greeting/CONNECT exchange used to talk to an
// upstream SOCKS5 server.
//
// Message layouts and constants come from github.com/txthinking/socks5. The
// parsing here is done field by field with exact-length reads so it works on
// any io.Reader, however the bytes happen to arrive.
//
// Errors are classified by wrapping one of [ErrProtocol] or [ErrIO].
package socks5
