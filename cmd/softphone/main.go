package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/sebas/softphone/internal/banner"
	"github.com/sebas/softphone/internal/logger"
	"github.com/sebas/softphone/internal/sipengine"
	"github.com/sebas/softphone/internal/ua/api"
	"github.com/sebas/softphone/internal/ua/config"
	"github.com/sebas/softphone/internal/ua/control"
	"github.com/sebas/softphone/internal/ua/events"
	"github.com/sebas/softphone/internal/ua/metrics"
	"github.com/sebas/softphone/internal/ua/phone"
)

const registerTimeout = 30 * time.Second

func main() {
	cfg := config.Load()

	// Account settings are optional: without them the phone waits for a
	// Register command.
	settings, settingsErr := config.LoadSettings(cfg.AccountFile)

	outputs := []io.Writer{os.Stdout}
	if cfg.LogFile != "" {
		fc := logger.FileConfig{Path: cfg.LogFile}
		if settings != nil {
			fc.MaxSizeMB = settings.LogMaxSizeMB()
			fc.MaxBackups = settings.LogMaxBackups()
			fc.MaxAgeDays = settings.LogMaxAgeDays()
			fc.Compress = settings.LogCompress()
		}
		fw := logger.NewFileWriter(fc)
		defer fw.Close()
		outputs = append(outputs, fw)
	}
	logger.SetLevel(cfg.LogLevel)
	logger.InitLogger(outputs...)

	if settingsErr != nil {
		slog.Warn("[Main] No account settings, waiting for Register", "file", cfg.AccountFile, "error", settingsErr)
	}

	if err := run(cfg, settings); err != nil {
		slog.Error("[Main] Softphone stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, settings *config.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := sipengine.New(sipengine.Config{
		BindAddr:      cfg.BindAddr,
		Port:          cfg.SIPPort,
		AdvertiseAddr: cfg.AdvertiseAddr,
		Transport:     cfg.Transport,
		RTPPortMin:    cfg.RTPPortMin,
		RTPPortMax:    cfg.RTPPortMax,
		Logger:        slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("create SIP engine: %w", err)
	}
	defer eng.Close()

	serveErr := make(chan error, 1)
	go func() { serveErr <- eng.Serve(ctx) }()

	opts := []phone.Option{phone.WithLogger(slog.Default())}
	if settings != nil {
		opts = append(opts, phone.WithPlayerConfig(settings.PlayerConfig()))
	}
	p := phone.New(eng, opts...)
	defer p.Close()

	if settings != nil {
		for _, cp := range settings.CodecPriorities() {
			if err := p.SetCodecPriority(cp.Codec, cp.Priority); err != nil {
				slog.Warn("[Main] Codec priority not applied", "codec", cp.Codec, "error", err)
			}
		}
	}

	bus := events.NewBus(events.DefaultHistory, slog.Default())
	defer bus.Close()
	detach := bus.Attach(p, events.NewBuilder(cfg.NodeID))
	defer detach()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.NewCollector(reg).Start(ctx, bus)
	metrics.RegisterBusStats(reg, bus)

	// Control plane
	ctrlCfg := control.Config{Logger: slog.Default()}
	if settings != nil {
		acc := settings.AccountConfig()
		ctrlCfg.DefaultAccount = &acc
	}
	grpcServer := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	control.RegisterControlServer(grpcServer, control.NewServer(p, bus, ctrlCfg))

	lis, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("listen control %s: %w", cfg.ControlAddr, err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("[Main] Control server error", "error", err)
		}
	}()
	defer stopGRPC(grpcServer, 5*time.Second)

	if cfg.APIAddr != "" {
		apiServer := api.NewServer(cfg.APIAddr, p, api.Options{NodeID: cfg.NodeID, Gatherer: reg, Bus: bus})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("start API: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiServer.Stop(shutdownCtx)
		}()
	}

	account := "-"
	if settings != nil {
		account = settings.IDURI()
	}
	banner.Print("SOFTPHONE", []banner.ConfigLine{
		{Label: "SIP", Value: fmt.Sprintf("%s %s:%d", cfg.Transport, cfg.BindAddr, cfg.SIPPort)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "RTP Ports", Value: fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax)},
		{Label: "Control", Value: cfg.ControlAddr},
		{Label: "API", Value: cfg.APIAddr},
		{Label: "Account", Value: account},
		{Label: "Node", Value: cfg.NodeID},
		{Label: "Log Level", Value: logger.GetLevel()},
	})

	if settings != nil {
		autoRegister(ctx, p, settings)
	}

	select {
	case <-ctx.Done():
		slog.Info("[Main] Shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	return nil
}

// autoRegister creates the configured account and logs the outcome of the
// first registration without blocking startup.
func autoRegister(ctx context.Context, p *phone.Phone, settings *config.Settings) {
	c, err := p.MakeAccount(settings.AccountConfig())
	if err != nil {
		slog.Error("[Main] Account not created", "account", settings.IDURI(), "error", err)
		return
	}
	go func() {
		waitCtx, cancel := context.WithTimeout(ctx, registerTimeout)
		defer cancel()
		if err := c.Wait(waitCtx); err != nil {
			slog.Error("[Main] Registration failed", "account", settings.IDURI(), "error", err)
			return
		}
		slog.Info("[Main] Registered", "account", settings.IDURI())
	}()
}

// stopGRPC drains RPCs, then cuts open event streams after timeout.
func stopGRPC(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
	}
}
