package netmgr

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
)

// datagramBufSize is sized for the largest fallback-table MSS plus header
// overhead (SPEC_FULL.md §4.4 MTU table tops out at 65535).
const datagramBufSize = 65535

// Datagram is one inbound UDP payload queued for worker-pool dispatch.
type Datagram struct {
	Data  []byte
	From  netip.AddrPort
	Local netip.AddrPort
}

// receiveLoop reads datagrams off conn.ReadFrom and enqueues them onto queue,
// discarding the oldest-enqueue-wins: a full queue means a later arrival is
// dropped rather than blocking the socket read, mirroring the donor
// receiver's queue-depth policy in internal/netio/receiver.go.
func receiveLoop(ctx context.Context, conn *Connector, queue chan<- Datagram, dropped func(), logger *slog.Logger) {
	local := conn.LocalAddr()
	for {
		buf := make([]byte, datagramBufSize)
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("receive error", slog.String("local", local.String()), slog.Any("error", err))
			continue
		}

		dg := Datagram{Data: buf[:n], From: from, Local: local}
		select {
		case queue <- dg:
		case <-ctx.Done():
			return
		default:
			dropped()
		}
	}
}
