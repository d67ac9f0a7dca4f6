package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/natcore/internal/ptcp"
)

func ptcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptcp",
		Short: "Inspect and exercise pseudo-TCP conversations",
	}
	cmd.AddCommand(ptcpConversationsCmd())
	cmd.AddCommand(ptcpDialCmd())
	return cmd
}

func ptcpConversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List live pseudo-TCP conversations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			v, err := api.PTCPConversations(context.Background())
			if err != nil {
				return fmt.Errorf("list ptcp conversations: %w", err)
			}

			out, err := formatConversations(v, outputFormat)
			if err != nil {
				return fmt.Errorf("format ptcp conversations: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

// udpNotifier drives a ptcp.Engine over a connected UDP socket, the
// minimal glue a standalone test client needs in place of the daemon's
// network manager dispatch.
type udpNotifier struct {
	conn   net.Conn
	opened chan struct{}
	closed chan error
}

func (n *udpNotifier) WritePacket(data []byte, _ netip.AddrPort) ptcp.WriteResult {
	if _, err := n.conn.Write(data); err != nil {
		return ptcp.WriteFailure
	}
	return ptcp.WriteSuccess
}

func (n *udpNotifier) TCPOpened() { close(n.opened) }
func (n *udpNotifier) TCPReadable() {}
func (n *udpNotifier) TCPWritable() {}
func (n *udpNotifier) TCPClosed(err error) { n.closed <- err }

// ptcpDialCmd opens a pseudo-TCP conversation to a remote peer, piping
// stdin to the stream and the stream to stdout — a test client for
// exercising the pseudo-TCP engine end to end without a full mux/STUN
// handshake in front of it.
func ptcpDialCmd() *cobra.Command {
	var conversation uint32

	cmd := &cobra.Command{
		Use:   "dial <host:port>",
		Short: "Dial a pseudo-TCP conversation and pipe stdin/stdout over it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dest, err := netip.ParseAddrPort(args[0])
			if err != nil {
				return fmt.Errorf("parse destination %q: %w", args[0], err)
			}

			conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(dest))
			if err != nil {
				return fmt.Errorf("dial udp %s: %w", dest, err)
			}
			defer conn.Close()

			notifier := &udpNotifier{conn: conn, opened: make(chan struct{}), closed: make(chan error, 1)}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			engine := ptcp.NewEngine(conversation, dest, notifier, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := engine.Connect(); err != nil {
				return fmt.Errorf("connect: %w", err)
			}

			go runClockLoop(ctx, engine)
			go runReadLoop(ctx, conn, engine)
			go io.Copy(&engineWriter{engine}, os.Stdin)
			go io.Copy(os.Stdout, &engineReader{engine})

			select {
			case <-ctx.Done():
				engine.Close(false)
				return nil
			case err := <-notifier.closed:
				if err != nil {
					return fmt.Errorf("conversation closed: %w", err)
				}
				return nil
			}
		},
	}

	cmd.Flags().Uint32Var(&conversation, "conversation", 1, "pseudo-TCP conversation ID")
	return cmd
}

// runClockLoop drives NextClock/NotifyClock with a timer sized to each
// engine-reported deadline, the same externally-driven clock contract
// the Engine type's doc comment describes.
func runClockLoop(ctx context.Context, e *ptcp.Engine) {
	for {
		intervalMS, ok := e.NextClock(time.Now())
		if !ok {
			return
		}

		timer := time.NewTimer(time.Duration(intervalMS) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			e.NotifyClock(time.Now())
		}
	}
}

func runReadLoop(ctx context.Context, conn net.Conn, e *ptcp.Engine) {
	buf := make([]byte, 2048)
	for {
		if ctx.Err() != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := conn.Read(buf)
		if n > 0 {
			e.NotifyPacket(buf[:n])
		}
		if err != nil && ctx.Err() != nil {
			return
		}
	}
}

// engineWriter adapts ptcp.Engine.Send to io.Writer for io.Copy.
type engineWriter struct{ e *ptcp.Engine }

func (w *engineWriter) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := w.e.Send(p[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// engineReader adapts ptcp.Engine.Recv to io.Reader for io.Copy.
type engineReader struct{ e *ptcp.Engine }

func (r *engineReader) Read(p []byte) (int, error) {
	return r.e.Recv(p)
}
