package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/corvidrelay/corvid/admin"
	"github.com/corvidrelay/corvid/config"
	"github.com/corvidrelay/corvid/dnscache"
	"github.com/corvidrelay/corvid/eventlog"
	"github.com/corvidrelay/corvid/mmtp"
	"github.com/corvidrelay/corvid/pinglog"
	"github.com/corvidrelay/corvid/relay"
	"github.com/corvidrelay/corvid/serverinfo"
)

// Version is set at build time via ldflags.
var Version = "dev"

// onionKeyBits matches packet.ModulusBytes*8; genkey never touches a
// wire packet, so it isn't worth importing packet just for the constant.
const onionKeyBits = 1024

func main() {
	app := &cli.App{
		Name:  "corvidd",
		Usage: "type-III remailer mix node",
		Commands: []*cli.Command{
			serveCmd,
			genkeyCmd,
			versionCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCmd = &cli.Command{
	Name:  "version",
	Usage: "print the build version",
	Action: func(ctx *cli.Context) error {
		fmt.Printf("corvidd %s\n", Version)
		return nil
	},
}

var genkeyCmd = &cli.Command{
	Name:  "genkey",
	Usage: "generate a new onion RSA keypair",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "out", Value: "node", Usage: "output file prefix (writes PREFIX.key and PREFIX.pub)"},
	},
	Action: runGenkey,
}

func runGenkey(ctx *cli.Context) error {
	priv, err := rsa.GenerateKey(rand.Reader, onionKeyBits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	prefix := ctx.String("out")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	if err := os.WriteFile(prefix+".key", keyPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}

	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)})
	if err := os.WriteFile(prefix+".pub", pubPEM, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	fmt.Printf("wrote %s.key (keep private) and %s.pub (publish in your server-list entry)\n", prefix, prefix)
	return nil
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the mix node",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "config", Value: "corvidd.yaml", Usage: "node configuration file"},
		&cli.StringFlag{Name: "key", Value: "node.key", Usage: "this node's onion private key (PEM, PKCS1)"},
		&cli.StringFlag{Name: "admin-addr", Value: "127.0.0.1:9090", Usage: "admin (/health, /metrics) listen address"},
		&cli.StringFlag{Name: "tls-cert", Usage: "TLS certificate for the MMTP listener (plaintext if unset)"},
		&cli.StringFlag{Name: "tls-key", Usage: "TLS private key for the MMTP listener"},
	},
	Action: runServe,
}

func runServe(ctx *cli.Context) error {
	logger, logFile := setupLogging()
	defer func() { _ = logFile.Close() }()

	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir, err := serverinfo.Load(cfg.ServerList)
	if err != nil {
		return fmt.Errorf("load server list: %w", err)
	}
	onionKey, err := loadPrivateKey(ctx.String("key"))
	if err != nil {
		return fmt.Errorf("load onion key: %w", err)
	}
	tlsConfig, err := loadTLSConfig(ctx.String("tls-cert"), ctx.String("tls-key"))
	if err != nil {
		return fmt.Errorf("load TLS material: %w", err)
	}

	registry := prometheus.NewRegistry()
	events := eventlog.NewPrometheus(registry, logger)
	pings := pinglog.NewMemory(logger)
	dns := dnscache.NewResolver(nil, logger)

	// handler.Reactor is filled in once the reactor it forwards through
	// exists; OnPacket is never called before reactor.Run starts below.
	handler := &relay.Handler{
		Key:       onionKey,
		Directory: dir,
		Events:    events,
		Logger:    logger,
	}
	reactor := mmtp.NewReactor(mmtp.ReactorConfig{
		TLSConfig:      tlsConfig,
		BytesPerTick:   cfg.Server.MaxBandwidth,
		MaxBucket:      cfg.Server.MaxBandwidthSpike,
		Timeout:        cfg.Server.Timeout,
		MaxConnections: cfg.Outgoing.MMTP.MaxConnections,
		Consumer:       handler,
		EventLog:       events,
		PingLog:        pings,
		DNSCache:       dns,
		Logger:         logger,
	})
	handler.Reactor = reactor

	go reactor.Run()
	defer reactor.Stop()

	mmtpServer := &mmtp.Server{
		Addr:      fmt.Sprintf("%s:%d", cfg.Incoming.MMTP.ListenIP, cfg.Incoming.MMTP.ListenPort),
		TLSConfig: tlsConfig,
		Reactor:   reactor,
		Logger:    logger,
	}

	adminServer := &admin.Server{
		Addr:     ctx.String("admin-addr"),
		Registry: registry,
		Version:  Version,
		Logger:   logger,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		_ = mmtpServer.Close()
		_ = adminServer.Close()
	}()

	go func() {
		if err := adminServer.ListenAndServe(); err != nil {
			logger.Warn("admin server stopped", "err", err)
		}
	}()

	logger.Info("corvidd starting", "version", Version, "mmtp_addr", mmtpServer.Addr, "admin_addr", adminServer.Addr)
	return mmtpServer.ListenAndServe()
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func loadTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func setupLogging() (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile("corvidd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}}), logFile
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
