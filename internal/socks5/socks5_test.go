package socks5

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/netip"
	"strings"
	"testing"
	"testing/iotest"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

func ipv4Request(a, b, c, d byte, port uint16) []byte {
	req := []byte{0x05, 0x01, 0x00, 0x01, a, b, c, d}
	return binary.BigEndian.AppendUint16(req, port)
}

func domainRequest(domain []byte, port uint16) []byte {
	req := []byte{0x05, 0x01, 0x00, 0x03, byte(len(domain))}
	req = append(req, domain...)
	return binary.BigEndian.AppendUint16(req, port)
}

func TestReadRequestIPv4(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []byte
		wantHost string
		wantPort uint16
	}{
		{name: "example", in: []byte{5, 1, 0, 1, 10, 0, 0, 1, 0x1F, 0x90}, wantHost: "10.0.0.1", wantPort: 8080},
		{name: "zero", in: ipv4Request(0, 0, 0, 0, 0), wantHost: "0.0.0.0", wantPort: 0},
		{name: "max", in: ipv4Request(255, 255, 255, 255, 65535), wantHost: "255.255.255.255", wantPort: 65535},
		{name: "http", in: ipv4Request(93, 184, 216, 34, 80), wantHost: "93.184.216.34", wantPort: 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ReadRequest(bytes.NewReader(tt.in))
			if err != nil {
				t.Fatal(err)
			}
			if req.Host != tt.wantHost || req.Port != tt.wantPort {
				t.Fatalf("got %s:%d want %s:%d", req.Host, req.Port, tt.wantHost, tt.wantPort)
			}
			if req.Atyp != ATYPIPv4 || req.Cmd != CmdConnect {
				t.Fatalf("got atyp=%#02x cmd=%#02x", req.Atyp, req.Cmd)
			}
			if !bytes.Equal(req.Raw, tt.in) {
				t.Fatalf("raw %x want %x", req.Raw, tt.in)
			}
		})
	}
}

func TestReadRequestIPv4Sampled(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for range 5000 {
		var ip [4]byte
		binary.BigEndian.PutUint32(ip[:], rng.Uint32())
		port := uint16(rng.UintN(1 << 16))

		req, err := ReadRequest(bytes.NewReader(ipv4Request(ip[0], ip[1], ip[2], ip[3], port)))
		if err != nil {
			t.Fatal(err)
		}
		want := fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], port)
		if got := req.Address(); got != want {
			t.Fatalf("got %q want %q", got, want)
		}
	}
}

func TestReadRequestDomainAllLengths(t *testing.T) {
	t.Parallel()

	for n := 0; n <= 255; n++ {
		domain := []byte(strings.Repeat("a", n))
		port := uint16(1000 + n)
		in := domainRequest(domain, port)
		// Trailing bytes belong to the relay, not the request.
		in = append(in, "payload"...)

		r := bytes.NewReader(in)
		req, err := ReadRequest(r)
		if err != nil {
			t.Fatalf("len %d: %v", n, err)
		}
		if req.Host != string(domain) || req.Port != port {
			t.Fatalf("len %d: got %q:%d", n, req.Host, req.Port)
		}
		if req.Address() != fmt.Sprintf("%s:%d", domain, port) {
			t.Fatalf("len %d: address %q", n, req.Address())
		}
		if len(req.Raw) != 7+n {
			t.Fatalf("len %d: raw length %d", n, len(req.Raw))
		}
		if r.Len() != len("payload") {
			t.Fatalf("len %d: consumed %d trailing bytes", n, len("payload")-r.Len())
		}
	}
}

func TestReadRequestDomainInvalidUTF8(t *testing.T) {
	t.Parallel()

	req, err := ReadRequest(bytes.NewReader(domainRequest([]byte{'a', 0xff, 'b'}, 443)))
	if err != nil {
		t.Fatal(err)
	}
	if req.Host != "a\uFFFDb" {
		t.Fatalf("got %q", req.Host)
	}
}

func TestReadGreeting(t *testing.T) {
	t.Parallel()

	g, err := ReadGreeting(bytes.NewReader([]byte{0x05, 0x02, 0x00, 0x02}))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(g.Methods, []byte{0x00, 0x02}) {
		t.Fatalf("methods %x", g.Methods)
	}

	g, err = ReadGreeting(bytes.NewReader([]byte{0x05, 0x00}))
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Methods) != 0 {
		t.Fatalf("methods %x", g.Methods)
	}
}

func TestReadGreetingBadVersion(t *testing.T) {
	t.Parallel()

	for v := range 256 {
		if v == 0x05 {
			continue
		}
		g, err := ReadGreeting(bytes.NewReader([]byte{byte(v), 0x01, 0x00}))
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("version %#02x: expected ErrProtocol, got %v", v, err)
		}
		if g != nil {
			t.Fatalf("version %#02x: partial greeting returned", v)
		}
	}
}

func TestReadRequestBadCommand(t *testing.T) {
	t.Parallel()

	for cmd := range 256 {
		if cmd == 0x01 {
			continue
		}
		in := ipv4Request(127, 0, 0, 1, 80)
		in[1] = byte(cmd)
		req, err := ReadRequest(bytes.NewReader(in))
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("cmd %#02x: expected ErrProtocol, got %v", cmd, err)
		}
		if req != nil {
			t.Fatalf("cmd %#02x: partial request returned", cmd)
		}
	}
}

func TestReadRequestBadAddressType(t *testing.T) {
	t.Parallel()

	for _, atyp := range []byte{0x00, 0x02, 0x04, 0x05, 0xff} {
		in := ipv4Request(127, 0, 0, 1, 80)
		in[3] = atyp
		_, err := ReadRequest(bytes.NewReader(in))
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("atyp %#02x: expected ErrProtocol, got %v", atyp, err)
		}
		if !strings.Contains(err.Error(), "invalid address type") {
			t.Fatalf("atyp %#02x: unexpected message %q", atyp, err)
		}
	}
}

func TestReadRequestShortReads(t *testing.T) {
	t.Parallel()

	in := domainRequest([]byte("example.com"), 443)
	req, err := ReadRequest(iotest.OneByteReader(bytes.NewReader(in)))
	if err != nil {
		t.Fatal(err)
	}
	if req.Address() != "example.com:443" {
		t.Fatalf("got %q", req.Address())
	}

	req, err = ReadRequest(iotest.HalfReader(bytes.NewReader(ipv4Request(10, 1, 2, 3, 22))))
	if err != nil {
		t.Fatal(err)
	}
	if req.Address() != "10.1.2.3:22" {
		t.Fatalf("got %q", req.Address())
	}
}

func TestReadRequestTruncated(t *testing.T) {
	t.Parallel()

	full := domainRequest([]byte("example.com"), 443)
	for n := range len(full) {
		_, err := ReadRequest(bytes.NewReader(full[:n]))
		if !errors.Is(err, ErrIO) {
			t.Fatalf("truncated at %d: expected ErrIO, got %v", n, err)
		}
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Fatalf("truncated at %d: expected EOF, got %v", n, err)
		}
	}

	_, err := ReadGreeting(bytes.NewReader([]byte{0x05, 0x03, 0x00}))
	if !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestServerHandshake(t *testing.T) {
	t.Parallel()

	in := append([]byte{0x05, 0x02, 0x02, 0x01}, ipv4Request(10, 0, 0, 1, 8080)...)
	var out bytes.Buffer
	rw := struct {
		io.Reader
		io.Writer
	}{bytes.NewReader(in), &out}

	req, err := ServerHandshake(rw)
	if err != nil {
		t.Fatal(err)
	}
	if req.Address() != "10.0.0.1:8080" {
		t.Fatalf("got %q", req.Address())
	}
	// No-auth is selected even though it was not offered.
	if !bytes.Equal(out.Bytes(), []byte{0x05, 0x00}) {
		t.Fatalf("reply %x", out.Bytes())
	}
}

func TestWriteSuccessReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bind netip.AddrPort
		want []byte
	}{
		{name: "direct", bind: DirectBindAddr, want: []byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0}},
		{name: "redirect", bind: RedirectBindAddr, want: []byte{5, 0, 0, 1, 127, 0, 0, 1, 0, 0}},
		{name: "port", bind: netip.MustParseAddrPort("10.0.0.1:8080"), want: []byte{5, 0, 0, 1, 10, 0, 0, 1, 0x1f, 0x90}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteSuccessReply(&buf, tt.bind); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Fatalf("got %x want %x", buf.Bytes(), tt.want)
			}
		})
	}

	if err := WriteSuccessReply(io.Discard, netip.MustParseAddrPort("[::1]:80")); err == nil {
		t.Fatal("expected error for ipv6 bind address")
	}
}

func TestReadReplyFrame(t *testing.T) {
	t.Parallel()

	ipv6 := append([]byte{5, 0, 0, 4}, net.IPv6loopback...)
	ipv6 = append(ipv6, 0x01, 0xbb)

	tests := []struct {
		name string
		in   []byte
	}{
		{name: "ipv4", in: []byte{5, 0, 0, 1, 127, 0, 0, 1, 0x1f, 0x90}},
		{name: "refused", in: []byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0}},
		{name: "domain", in: append([]byte{5, 0, 0, 3, 4, 'h', 'o', 's', 't'}, 0, 80)},
		{name: "ipv6", in: ipv6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(append(append([]byte{}, tt.in...), "data"...))
			frame, err := ReadReplyFrame(iotest.OneByteReader(r))
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(frame, tt.in) {
				t.Fatalf("got %x want %x", frame, tt.in)
			}
			if r.Len() != len("data") {
				t.Fatalf("over-read %d bytes", len("data")-r.Len())
			}
		})
	}
}

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name string
		auth Auth
	}{
		{name: "no_auth"},
		{name: "user_pass", auth: Auth{Username: "user", Password: "pass"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				if tt.auth.Username == "" {
					req, err := ServerHandshake(serverConn)
					if err != nil {
						return err
					}
					if req.Address() != "127.0.0.1:80" {
						return fmt.Errorf("unexpected address: %s", req.Address())
					}
					return WriteSuccessReply(serverConn, DirectBindAddr)
				}

				if _, err := txsocks5.NewNegotiationRequestFrom(serverConn); err != nil {
					return err
				}
				if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(serverConn); err != nil {
					return err
				}
				urq, err := txsocks5.NewUserPassNegotiationRequestFrom(serverConn)
				if err != nil {
					return err
				}
				if string(urq.Uname) != tt.auth.Username || string(urq.Passwd) != tt.auth.Password {
					return fmt.Errorf("unexpected credentials %q:%q", urq.Uname, urq.Passwd)
				}
				if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(serverConn); err != nil {
					return err
				}
				req, err := ReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Address() != "127.0.0.1:80" {
					return fmt.Errorf("unexpected address: %s", req.Address())
				}
				return WriteSuccessReply(serverConn, RedirectBindAddr)
			})

			if err := ClientDial(clientConn, tt.auth, "127.0.0.1:80"); err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestClientConnectRefused(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		if _, err := ServerHandshake(serverConn); err != nil {
			return err
		}
		_, err := serverConn.Write([]byte{5, txsocks5.RepConnectionRefused, 0, 1, 0, 0, 0, 0, 0, 0})
		return err
	})

	err := ClientDial(clientConn, Auth{}, "example.com:443")
	var rerr *ReplyError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReplyError, got %v", err)
	}
	if rerr.Code != txsocks5.RepConnectionRefused {
		t.Fatalf("code %#02x", rerr.Code)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestClientNegotiateUnofferedMethod(t *testing.T) {
	tests := []struct {
		name   string
		method byte
	}{
		{name: "no_acceptable", method: 0xff},
		{name: "userpass_without_credentials", method: txsocks5.MethodUsernamePassword},
		{name: "gssapi", method: 0x01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				if _, err := ReadGreeting(serverConn); err != nil {
					return err
				}
				_, err := serverConn.Write([]byte{5, tt.method})
				return err
			})

			if err := ClientNegotiate(clientConn, Auth{}); !errors.Is(err, ErrProtocol) {
				t.Fatalf("expected ErrProtocol, got %v", err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}
