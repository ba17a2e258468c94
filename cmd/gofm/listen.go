package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rjboer/GoFM/internal/app"
	"github.com/rjboer/GoFM/internal/logging"
	"github.com/rjboer/GoFM/internal/mdns"
	"github.com/rjboer/GoFM/internal/playback"
	"github.com/rjboer/GoFM/internal/telemetry"
	"github.com/rjboer/GoFM/rtltcp"
)

const discoverTimeout = 3 * time.Second

var errStreamLost = errors.New("stream lost")

func newListenCmd(lookup lookupFunc) *cobra.Command {
	var cfg cliConfig
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "tune to a station and play it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cfg, logging.Default())
		},
	}
	bindListenFlags(cmd.Flags(), &cfg, lookup)
	return cmd
}

func runListen(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	log := logger.With(logging.Subsystem("cli"))

	if cfg.discover {
		host, port, err := discoverServer(ctx)
		if err != nil {
			return err
		}
		cfg.host, cfg.port = host, port
		log.Info("using discovered server", logging.F("host", host), logging.F("port", port))
	}

	pc, err := cfg.playerConfig()
	if err != nil {
		return err
	}
	newSink, err := selectSink(cfg.sink, cfg.wavPath, logger)
	if err != nil {
		return err
	}

	hub := telemetry.NewHub(cfg.historyLimit, logger)
	opts := []app.Option{
		app.WithLogger(logger),
		app.WithSink(newSink),
		app.WithReporter(telemetry.MultiReporter{hub, telemetry.NewStdoutReporter(logger, cfg.statusEvery)}),
		app.WithSpectrum(hub),
	}
	if sshCfg, ok := cfg.sshConfig(); ok {
		dialer, err := rtltcp.NewSSHDialer(sshCfg)
		if err != nil {
			return err
		}
		defer dialer.Close()
		opts = append(opts, app.WithDialer(dialer))
	}

	player, err := app.NewPlayer(pc, opts...)
	if err != nil {
		return err
	}
	defer player.Close()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.webAddr != "" {
		web := telemetry.NewWebServer(cfg.webAddr, hub, player, logger)
		g.Go(func() error { return web.Start(gctx) })
	}
	g.Go(func() error { return play(gctx, player, log) })
	return g.Wait()
}

// play connects, starts streaming and blocks until ctx ends or the capture
// loop gives up.
func play(ctx context.Context, player *app.Player, log logging.Logger) error {
	cfg := player.Config()
	if !player.Connect(ctx) {
		return fmt.Errorf("connect %s: failed", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	}
	if !player.Start() {
		return errors.New("start streaming: failed")
	}
	log.Info("playing (Ctrl+C to stop)", logging.F("freq_mhz", float64(cfg.Frequency)/1e6))

	select {
	case <-ctx.Done():
		player.Disconnect()
		return nil
	case <-player.Done():
		return errStreamLost
	}
}

func discoverServer(ctx context.Context) (string, int, error) {
	hosts, err := mdns.Discover(ctx, discoverTimeout)
	if err != nil {
		return "", 0, err
	}
	if len(hosts) == 0 {
		return "", 0, errors.New("no rtl_tcp server found via mDNS")
	}
	host, portStr, err := net.SplitHostPort(hosts[0].Addr())
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

func selectSink(name, wavPath string, logger logging.Logger) (app.SinkFactory, error) {
	switch name {
	case "portaudio":
		return func(buf *playback.Buffer, rate int) playback.Sink {
			return playback.NewPortAudioSink(buf, rate, logger)
		}, nil
	case "pulse":
		return func(buf *playback.Buffer, rate int) playback.Sink {
			return playback.NewPulseSink(buf, rate, logger)
		}, nil
	case "wav":
		if wavPath == "" {
			return nil, errors.New("wav sink needs --wav-path")
		}
		return func(buf *playback.Buffer, rate int) playback.Sink {
			return playback.NewWAVSink(buf, rate, wavPath, logger)
		}, nil
	case "none":
		return func(buf *playback.Buffer, rate int) playback.Sink {
			return playback.NewNullSink(buf, rate)
		}, nil
	default:
		return nil, fmt.Errorf("unknown sink %s", name)
	}
}
