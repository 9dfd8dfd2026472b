package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sockpuppet/internal/control"
	"github.com/die-net/sockpuppet/internal/dialer"
	"github.com/die-net/sockpuppet/internal/metrics"
	"github.com/die-net/sockpuppet/internal/proxy"
	"github.com/die-net/sockpuppet/internal/target"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socksListen   = pflag.String("socks5-listen", "127.0.0.1:6969", "SOCKS5 proxy listen address")
		controlListen = pflag.String("control-listen", "127.0.0.1:7070", "Control HTTP listen address serving /set_proxy/{target}, /proxy and /metrics. Empty disables.")
		debugListen   = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof (e.g. 127.0.0.1:6060). Empty disables.")

		mode          = pflag.String("mode", string(proxy.ModeRedirect), "Session routing: direct (connect to the requested destination) | redirect (connect to the current target)")
		redirectReply = pflag.String("redirect-reply", string(proxy.ReplyUpstream), "Redirect mode reply: upstream (replay the request to the target as a SOCKS5 server) | local (reply locally, relay raw bytes)")
		initialTarget = pflag.String("target", "127.0.0.1:6868", "Initial redirect target (IPv4:port)")
		upstream      = pflag.String("upstream", defaultUpstream(), "Outbound dialer URL: direct:// | socks5://[user:pass@]host:port")

		dialTimeout        = pflag.Duration("dial-timeout", 0, "Timeout for outbound DNS lookup and TCP connect. 0 disables.")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 0, "Timeout for the SOCKS5 handshake with clients and upstreams. 0 disables.")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		logLevel           = pflag.String("log-level", "info", "Log level: debug|info|warn|error")
		verbose            = pflag.Bool("verbose", false, "Enable per-connection logging (same as --log-level=debug)")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	log, err := newLogger(*logLevel, *verbose)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	m, err := proxy.ParseMode(*mode)
	if err != nil {
		return fmt.Errorf("invalid --mode: %w", err)
	}

	rr, err := proxy.ParseRedirectReply(*redirectReply)
	if err != nil {
		return fmt.Errorf("invalid --redirect-reply: %w", err)
	}

	if err := target.Check(*initialTarget); err != nil {
		return fmt.Errorf("invalid --target: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	cfg := proxy.Config{
		Mode:               m,
		RedirectReply:      rr,
		Target:             target.NewRegister(*initialTarget),
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		Log:                log,
		Metrics:            metrics.New(reg),
	}

	cfg.Dialer, err = dialer.New(dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          cfg.KeepAlive,
	}, *upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		debugLn, err := proxy.ListenTCP(ctx, "tcp", *debugListen, cfg.KeepAlive)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Infof("debug listening on %s", *debugListen)
	}

	if *controlListen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", *controlListen, cfg.KeepAlive)
		if err != nil {
			return fmt.Errorf("control listen: %w", err)
		}
		srv := control.NewServer(ctx, control.Config{
			Target:            cfg.Target,
			MetricsHandler:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
			Log:               log,
			Metrics:           cfg.Metrics,
		})
		context.AfterFunc(ctx, func() {
			_ = srv.Close()
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil {
				return fmt.Errorf("control serve: %w", err)
			}
			return nil
		})
		log.Infof("control endpoint listening on %s", *controlListen)
	}

	ln, err := proxy.ListenTCP(ctx, "tcp", *socksListen, cfg.KeepAlive)
	if err != nil {
		return fmt.Errorf("socks5 listen: %w", err)
	}
	s5 := proxy.NewSOCKS5Server(ctx, cfg)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	g.Go(func() error {
		if err := s5.Serve(ln); err != nil {
			if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("socks5 serve: %w", err)
		}
		return nil
	})

	log.WithFields(logrus.Fields{
		"mode":   m,
		"target": cfg.Target.Get(),
	}).Infof("SOCKS5 proxy running on %s", *socksListen)

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down")
	return err
}

func newLogger(level string, verbose bool) (*logrus.Entry, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if verbose {
		lvl = logrus.DebugLevel
	}

	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l.WithField("app", "sockpuppet"), nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "":
		return net.KeepAliveConfig{}, errors.New("empty")
	case "on":
		return net.KeepAliveConfig{Enable: true}, nil
	case "off":
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveInt(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveInt(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     time.Duration(keepIdle) * time.Second,
		Interval: time.Duration(keepIntvl) * time.Second,
		Count:    keepCnt,
	}, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
