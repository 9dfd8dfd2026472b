// Package target holds the redirect destination shared between the SOCKS5
// listener and the control endpoint.
//
// A [Register] is created once at startup and handed to every consumer; it is
// never a package-level global.
package target
