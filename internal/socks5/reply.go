package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// DirectBindAddr is reported as the bound address when the proxy dials
	// the requested destination itself.
	DirectBindAddr = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)

	// RedirectBindAddr is reported when a redirected session is answered
	// locally.
	RedirectBindAddr = netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), 0)
)

// WriteNoAuthReply selects "no authentication".
func WriteNoAuthReply(w io.Writer) error {
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(w); err != nil {
		return fmt.Errorf("%w: negotiation reply: %w", ErrIO, err)
	}
	return nil
}

// WriteSuccessReply writes a success reply with bind as BND.ADDR/BND.PORT.
// bind must be an IPv4 address.
func WriteSuccessReply(w io.Writer, bind netip.AddrPort) error {
	addr := bind.Addr().Unmap()
	if !addr.Is4() {
		return fmt.Errorf("%w: bind address %s is not ipv4", ErrProtocol, addr)
	}
	ip := addr.As4()
	port := binary.BigEndian.AppendUint16(nil, bind.Port())

	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, ATYPIPv4, ip[:], port).WriteTo(w); err != nil {
		return fmt.Errorf("%w: success reply: %w", ErrIO, err)
	}
	return nil
}
