package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqrelay/certs"
	"github.com/zsiec/moqrelay/relay"
	"github.com/zsiec/moqrelay/transport"

	"log/slog"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	log.Info("generating self-signed certificate")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		log.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	log.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	quicAddr := envOr("MOQ_QUIC_ADDR", ":4443")
	wtAddr := envOr("MOQ_WT_ADDR", ":4444")
	wtPath := envOr("MOQ_WT_PATH", "/moq")
	cacheTTL := envDurationOr("RELAY_CACHE_TTL", 30*time.Second)
	maxSubscribeID := envUintOr("RELAY_MAX_SUBSCRIBE_ID", 100)

	r := relay.New(ctx, log, relay.Config{
		DefaultMaxSubscribeID: maxSubscribeID,
		MaxConcurrentFetches:  8,
		CacheTTL:              cacheTTL,
	})

	quicLn, err := transport.ListenQUIC(quicAddr, &tls.Config{
		Certificates: []tls.Certificate{cert.TLSCert},
		NextProtos:   []string{"moq-00"},
	}, nil)
	if err != nil {
		log.Error("failed to start QUIC listener", "error", err)
		os.Exit(1)
	}
	defer quicLn.Close()

	mux := http.NewServeMux()
	wtSrv := transport.NewWebTransportServer(transport.WebTransportConfig{
		Addr: wtAddr,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert.TLSCert},
		},
	}, mux, wtPath)
	defer wtSrv.Close()

	log.Info("moqrelayd starting",
		"version", version,
		"quic_addr", quicAddr,
		"webtransport_addr", wtAddr,
		"webtransport_path", wtPath,
		"cert_hash", cert.FingerprintBase64(),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.Run(ctx) })
	g.Go(func() error { return r.Serve(ctx, quicLn) })
	g.Go(func() error { return r.Serve(ctx, wtSrv) })

	g.Go(func() error {
		if err := wtSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return wtSrv.Close()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envUintOr(key string, fallback uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
