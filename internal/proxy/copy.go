package proxy

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/die-net/sockpuppet/internal/metrics"
)

type copyResult struct {
	direction string
	err       error
}

// CopyBidirectional relays bytes between client and upstream until the first
// direction reaches EOF or fails, or ctx is canceled. Both connections are
// closed before it returns. The other direction is not waited for; closing
// its sockets unblocks it and its result is dropped.
func CopyBidirectional(ctx context.Context, client, upstream net.Conn, m *metrics.Metrics) error {
	// Buffered so the losing direction never blocks on send.
	done := make(chan copyResult, 2)

	pump := func(direction string, dst, src net.Conn) {
		buf := relayBuffers.Get()
		defer relayBuffers.Put(buf)

		n, err := io.CopyBuffer(dst, src, *buf)
		m.AddBytes(direction, n)
		done <- copyResult{direction: direction, err: err}
	}

	go pump(metrics.DirectionUpstream, upstream, client)
	go pump(metrics.DirectionDownstream, client, upstream)

	var err error
	select {
	case res := <-done:
		if res.err != nil {
			err = fmt.Errorf("relay %s: %w", res.direction, res.err)
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	_ = client.Close()
	_ = upstream.Close()
	return err
}
