// Package dialer provides the outbound dialers the SOCKS5 listener uses to
// reach the endpoint it has resolved for a session.
//
// Dialers implement a small interface (DialContext) and either connect
// directly or chain through an upstream SOCKS5 proxy.
package dialer
