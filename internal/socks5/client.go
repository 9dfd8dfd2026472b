package socks5

import (
	"bytes"
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// Auth configures optional username/password authentication when talking to
// an upstream SOCKS5 server.
type Auth struct {
	Username string
	Password string
}

// ReplyError is a non-success reply code from an upstream server.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks5 upstream replied %#02x", e.Code)
}

// ClientDial negotiates with the server on rw and asks it to CONNECT to
// address.
func ClientDial(rw io.ReadWriter, auth Auth, address string) error {
	if err := ClientNegotiate(rw, auth); err != nil {
		return err
	}
	return ClientConnect(rw, address)
}

// ClientNegotiate runs method selection on rw. No-auth is always offered;
// username/password is added to the offer, and then carried out, only when
// auth has a username.
func ClientNegotiate(rw io.ReadWriter, auth Auth) error {
	offer := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		offer = append(offer, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(offer).WriteTo(rw); err != nil {
		return fmt.Errorf("%w: write negotiation: %w", ErrIO, err)
	}
	sel, err := txsocks5.NewNegotiationReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("%w: read negotiation: %w", ErrIO, err)
	}

	if !bytes.Contains(offer, []byte{sel.Method}) {
		return fmt.Errorf("%w: server selected unoffered method %#02x", ErrProtocol, sel.Method)
	}
	if sel.Method == txsocks5.MethodUsernamePassword {
		return clientUserPass(rw, auth)
	}
	return nil
}

// clientUserPass runs the RFC 1929 subnegotiation.
func clientUserPass(rw io.ReadWriter, auth Auth) error {
	req := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password))
	if _, err := req.WriteTo(rw); err != nil {
		return fmt.Errorf("%w: write userpass: %w", ErrIO, err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(rw)
	if err != nil {
		return fmt.Errorf("%w: read userpass: %w", ErrIO, err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return fmt.Errorf("%w: username/password rejected", ErrProtocol)
	}
	return nil
}

// ClientConnect sends a CONNECT request for address and waits for a success
// reply.
func ClientConnect(rw io.ReadWriter, address string) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", address, err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(CmdConnect, atyp, dstAddr, dstPort).WriteTo(rw); err != nil {
		return fmt.Errorf("%w: write request: %w", ErrIO, err)
	}

	frame, err := ReadReplyFrame(rw)
	if err != nil {
		return err
	}
	if frame[1] != txsocks5.RepSuccess {
		return &ReplyError{Code: frame[1]}
	}
	return nil
}

// ReadReplyFrame reads exactly one reply (VER REP RSV ATYP BND.ADDR
// BND.PORT) and returns its bytes unmodified.
func ReadReplyFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, 4)
	if err := readFull(r, hdr, "reply"); err != nil {
		return nil, err
	}
	if hdr[0] != txsocks5.Ver {
		return nil, fmt.Errorf("%w: unsupported reply version %#02x", ErrProtocol, hdr[0])
	}

	_, addr, err := readAddr(r, hdr[3], true)
	if err != nil {
		return nil, err
	}

	port := make([]byte, 2)
	if err := readFull(r, port, "reply port"); err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(hdr)+len(addr)+len(port))
	frame = append(frame, hdr...)
	frame = append(frame, addr...)
	return append(frame, port...), nil
}
