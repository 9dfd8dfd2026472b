package socks5

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrProtocol marks a malformed or unsupported SOCKS5 message.
	ErrProtocol = errors.New("socks5 protocol error")

	// ErrIO marks a read or write failure, including a stream that ended
	// before a fixed-length field was complete.
	ErrIO = errors.New("socks5 i/o error")
)

const (
	// CmdConnect is the only command accepted by ReadRequest.
	CmdConnect = txsocks5.CmdConnect

	ATYPIPv4   = txsocks5.ATYPIPv4
	ATYPDomain = txsocks5.ATYPDomain
	ATYPIPv6   = txsocks5.ATYPIPv6

	RepSuccess = txsocks5.RepSuccess
)

// Greeting is the client's method-selection message.
type Greeting struct {
	Methods []byte
}

// Request is a parsed CONNECT request.
type Request struct {
	Cmd  byte
	Atyp byte
	Host string
	Port uint16

	// Raw holds the request bytes exactly as read, from VER through
	// DST.PORT.
	Raw []byte
}

// Address returns the destination as host:port.
func (r *Request) Address() string {
	return r.Host + ":" + strconv.Itoa(int(r.Port))
}

// ServerHandshake reads the greeting, accepts "no authentication"
// unconditionally, and reads the CONNECT request.
func ServerHandshake(rw io.ReadWriter) (*Request, error) {
	if _, err := ReadGreeting(rw); err != nil {
		return nil, err
	}
	if err := WriteNoAuthReply(rw); err != nil {
		return nil, err
	}
	return ReadRequest(rw)
}

// ReadGreeting reads VER NMETHODS METHODS.
func ReadGreeting(r io.Reader) (*Greeting, error) {
	hdr := make([]byte, 2)
	if err := readFull(r, hdr, "greeting"); err != nil {
		return nil, err
	}
	if hdr[0] != txsocks5.Ver {
		return nil, fmt.Errorf("%w: unsupported version %#02x", ErrProtocol, hdr[0])
	}

	methods := make([]byte, int(hdr[1]))
	if err := readFull(r, methods, "greeting methods"); err != nil {
		return nil, err
	}
	return &Greeting{Methods: methods}, nil
}

// ReadRequest reads VER CMD RSV ATYP DST.ADDR DST.PORT. Only CONNECT with an
// IPv4 or domain destination is accepted.
func ReadRequest(r io.Reader) (*Request, error) {
	hdr := make([]byte, 4)
	if err := readFull(r, hdr, "request"); err != nil {
		return nil, err
	}
	if hdr[0] != txsocks5.Ver {
		return nil, fmt.Errorf("%w: unsupported request version %#02x", ErrProtocol, hdr[0])
	}
	if hdr[1] != CmdConnect {
		return nil, fmt.Errorf("%w: unsupported command %#02x", ErrProtocol, hdr[1])
	}

	host, addr, err := readAddr(r, hdr[3], false)
	if err != nil {
		return nil, err
	}

	port := make([]byte, 2)
	if err := readFull(r, port, "request port"); err != nil {
		return nil, err
	}

	raw := make([]byte, 0, len(hdr)+len(addr)+len(port))
	raw = append(raw, hdr...)
	raw = append(raw, addr...)
	raw = append(raw, port...)

	return &Request{
		Cmd:  hdr[1],
		Atyp: hdr[3],
		Host: host,
		Port: uint16(port[0])<<8 | uint16(port[1]),
		Raw:  raw,
	}, nil
}

// readAddr reads the address field for atyp and returns it formatted along
// with the bytes consumed. IPv6 is only accepted when allowIPv6 is set, which
// is the case for replies read from an upstream.
func readAddr(r io.Reader, atyp byte, allowIPv6 bool) (string, []byte, error) {
	switch {
	case atyp == ATYPIPv4:
		b := make([]byte, net.IPv4len)
		if err := readFull(r, b, "ipv4 address"); err != nil {
			return "", nil, err
		}
		return net.IP(b).String(), b, nil
	case atyp == ATYPDomain:
		n := make([]byte, 1)
		if err := readFull(r, n, "domain length"); err != nil {
			return "", nil, err
		}
		b := make([]byte, 1+int(n[0]))
		b[0] = n[0]
		if err := readFull(r, b[1:], "domain"); err != nil {
			return "", nil, err
		}
		return strings.ToValidUTF8(string(b[1:]), "\uFFFD"), b, nil
	case atyp == ATYPIPv6 && allowIPv6:
		b := make([]byte, net.IPv6len)
		if err := readFull(r, b, "ipv6 address"); err != nil {
			return "", nil, err
		}
		return net.IP(b).String(), b, nil
	default:
		return "", nil, fmt.Errorf("%w: invalid address type %#02x", ErrProtocol, atyp)
	}
}

func readFull(r io.Reader, b []byte, what string) error {
	if _, err := io.ReadFull(r, b); err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrIO, what, err)
	}
	return nil
}
