// natcored is the NAT/firewall traversal core daemon: a STUN transaction
// engine, a pseudo-TCP reliable-stream engine, and a shared-listener mux
// (SPEC_FULL.md).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/natcore/internal/admin"
	"github.com/dantte-lp/natcore/internal/config"
	"github.com/dantte-lp/natcore/internal/creds"
	"github.com/dantte-lp/natcore/internal/metrics"
	"github.com/dantte-lp/natcore/internal/mux"
	"github.com/dantte-lp/natcore/internal/netmgr"
	"github.com/dantte-lp/natcore/internal/ptcp"
	"github.com/dantte-lp/natcore/internal/stun"
	appversion "github.com/dantte-lp/natcore/internal/version"
)

// shutdownTimeout is the maximum time to wait for the admin HTTP server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("natcored starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.Any("stun_listen_addrs", cfg.STUN.ListenAddrs),
	)

	if err := runServers(cfg, logger, *configPath, logLevel); err != nil {
		logger.Error("natcored exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("natcored stopped")
	return 0
}

// runServers wires the transaction table, pseudo-TCP registry, mux registry,
// network manager, and admin HTTP surface together and runs them under an
// errgroup with signal-aware context for graceful shutdown.
func runServers(cfg *config.Config, logger *slog.Logger, configPath string, logLevel *slog.LevelVar) error {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	credRegistry := creds.NewRegistry()
	if cfg.Credentials.File != "" {
		if err := credRegistry.LoadFile(cfg.Credentials.File); err != nil {
			return fmt.Errorf("load credentials file %s: %w", cfg.Credentials.File, err)
		}
	}

	table := stun.NewTable(credRegistry, logger)
	table.AttachMetrics(collector)
	ptcpRegistry := ptcp.NewRegistry(logger)
	muxRegistry := mux.NewRegistry(logger)

	ph := newDatagramDispatcher(ptcpRegistry, nil, collector, logger)
	netManager := netmgr.NewManager(table, ph, logger, netmgr.WithWorkers(cfg.STUN.Workers))
	ph.netManager = netManager

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	if err := startListeners(netManager, cfg.STUN.ListenAddrs, logger); err != nil {
		return fmt.Errorf("start STUN listeners: %w", err)
	}

	g.Go(func() error {
		netManager.Run(gCtx)
		return nil
	})

	adminSrv := admin.New(cfg.Admin.Addr, cfg.Metrics.Path, table, ptcpRegistry, muxRegistry, reg, logger)
	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(gCtx, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		return watchSIGHUP(gCtx, configPath, logLevel, logger)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, muxRegistry, adminSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startListeners binds the network manager to every configured STUN listen
// address.
func startListeners(m *netmgr.Manager, addrs []string, logger *slog.Logger) error {
	for _, a := range addrs {
		addr, err := netip.ParseAddrPort(a)
		if err != nil {
			return fmt.Errorf("parse listen address %q: %w", a, err)
		}
		if err := m.Listen(context.Background(), addr); err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		logger.Info("STUN listener started", slog.String("addr", addr.String()))
	}
	return nil
}

// datagramDispatcher routes non-STUN datagrams to the matching pseudo-TCP
// engine by conversation ID (the first four bytes of the pseudo-TCP
// header), implementing netmgr.PayloadHandler. An inbound connect segment
// for a conversation with no registered engine spins up a new
// listening-state engine to passively accept it (SPEC_FULL.md §4.4's
// three-(non-)way handshake responder side).
type datagramDispatcher struct {
	ptcp       *ptcp.Registry
	netManager *netmgr.Manager
	collector  *metrics.Collector
	logger     *slog.Logger
}

func newDatagramDispatcher(reg *ptcp.Registry, netManager *netmgr.Manager, collector *metrics.Collector, logger *slog.Logger) *datagramDispatcher {
	return &datagramDispatcher{ptcp: reg, netManager: netManager, collector: collector, logger: logger}
}

func (d *datagramDispatcher) HandleDatagram(local, from netip.AddrPort, data []byte) bool {
	h, _, err := ptcp.DecodeHeader(data)
	if err != nil {
		return false
	}

	engine, ok := d.ptcp.Lookup(h.Conversation)
	if !ok {
		if !h.Control() {
			d.logger.Debug("non-control segment for unknown conversation dropped",
				slog.Uint64("conversation", uint64(h.Conversation)),
			)
			return false
		}
		engine = d.accept(h.Conversation, local, from)
	}

	engine.NotifyPacket(data)
	return true
}

// accept builds and registers a new listening-state engine to passively
// accept an inbound connect for a previously-unknown conversation.
func (d *datagramDispatcher) accept(conversation uint32, local, from netip.AddrPort) *ptcp.Engine {
	notifier := &connectorNotifier{
		manager:      d.netManager,
		local:        local,
		registry:     d.ptcp,
		conversation: conversation,
	}
	engine := ptcp.NewEngine(conversation, from, notifier, d.logger)
	engine.AttachMetrics(d.collector)
	d.ptcp.Add(engine)

	d.logger.Info("accepting inbound pseudo-TCP conversation",
		slog.Uint64("conversation", uint64(conversation)),
		slog.String("from", from.String()),
	)
	return engine
}

// connectorNotifier implements ptcp.Notifier by writing segments back out
// on the network manager's socket bound at local, the same socket the
// inbound connect arrived on (SPEC_FULL.md §2's shared-socket demultiplex).
// It also evicts its engine from the registry once closed, so accepted
// conversations don't accumulate forever.
type connectorNotifier struct {
	manager      *netmgr.Manager
	local        netip.AddrPort
	registry     *ptcp.Registry
	conversation uint32
}

func (n *connectorNotifier) WritePacket(data []byte, dest netip.AddrPort) ptcp.WriteResult {
	conn, ok := n.manager.Connector(n.local)
	if !ok {
		return ptcp.WriteFailure
	}
	if err := conn.SendPacket(context.Background(), data, dest); err != nil {
		return ptcp.WriteFailure
	}
	return ptcp.WriteSuccess
}

func (n *connectorNotifier) TCPOpened()   {}
func (n *connectorNotifier) TCPReadable() {}
func (n *connectorNotifier) TCPWritable() {}

func (n *connectorNotifier) TCPClosed(err error) {
	if n.registry != nil {
		n.registry.Remove(n.conversation)
	}
}

// -------------------------------------------------------------------------
// SIGHUP reload — log level only (no declarative session concept here)
// -------------------------------------------------------------------------

func watchSIGHUP(ctx context.Context, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) error {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	defer signal.Stop(sigHUP)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigHUP:
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, muxRegistry *mux.Registry, adminSrv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var err error
	if closeErr := muxRegistry.Close(); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close mux registry: %w", closeErr))
	}
	if shutdownErr := adminSrv.Shutdown(shutdownCtx); shutdownErr != nil {
		err = errors.Join(err, fmt.Errorf("shutdown admin server: %w", shutdownErr))
	}
	return err
}

// -------------------------------------------------------------------------
// Server setup helpers
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
