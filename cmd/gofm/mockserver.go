package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/rjboer/GoFM/internal/logging"
	"github.com/rjboer/GoFM/internal/mdns"
	"github.com/rjboer/GoFM/internal/sdr"
	"github.com/rjboer/GoFM/rtltcp"
)

type mockConfig struct {
	listen    string
	tone      float64
	deviation float64
	carrier   float64
	noise     float64
	header    bool
	realtime  bool
	advertise bool
	instance  string
}

func bindMockFlags(fs *pflag.FlagSet, cfg *mockConfig, lookup lookupFunc) {
	fs.StringVar(&cfg.listen, "listen", envString(lookup, "GOFM_MOCK_LISTEN", fmt.Sprintf(":%d", rtltcp.DefaultPort)), "Listen address")
	fs.Float64Var(&cfg.tone, "tone", envFloat(lookup, "GOFM_MOCK_TONE", sdr.DefaultToneHz), "Modulating tone in Hz")
	fs.Float64Var(&cfg.deviation, "deviation", envFloat(lookup, "GOFM_MOCK_DEVIATION", sdr.DefaultDeviationHz), "Peak deviation in Hz")
	fs.Float64Var(&cfg.carrier, "carrier-offset", envFloat(lookup, "GOFM_MOCK_CARRIER_OFFSET", 0), "Carrier offset from centre in Hz")
	fs.Float64Var(&cfg.noise, "noise", envFloat(lookup, "GOFM_MOCK_NOISE", 0.01), "Noise standard deviation")
	fs.BoolVar(&cfg.header, "header", envBool(lookup, "GOFM_MOCK_HEADER", true), "Send the dongle header")
	fs.BoolVar(&cfg.realtime, "realtime", envBool(lookup, "GOFM_MOCK_REALTIME", true), "Pace output to the sample rate")
	fs.BoolVar(&cfg.advertise, "advertise", envBool(lookup, "GOFM_MOCK_ADVERTISE", false), "Announce the server via mDNS")
	fs.StringVar(&cfg.instance, "instance", envString(lookup, "GOFM_MOCK_INSTANCE", "gofm-mock"), "mDNS instance name")
}

func (c mockConfig) serverConfig() sdr.Config {
	return sdr.Config{
		ToneHz:      c.tone,
		DeviationHz: c.deviation,
		CarrierHz:   c.carrier,
		Noise:       c.noise,
		Header:      c.header,
		Tuner:       rtltcp.TunerR820T,
		Realtime:    c.realtime,
	}
}

func newMockServerCmd(lookup lookupFunc) *cobra.Command {
	var cfg mockConfig
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "serve a synthetic FM tone over the rtl_tcp protocol",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := logging.Default()

			srv := sdr.NewServer(cfg.serverConfig(), logger)
			if err := srv.Listen(cfg.listen); err != nil {
				return err
			}
			if cfg.advertise {
				zc, err := mdns.Advertise(cfg.instance, srv.Addr().Port, []string{"tuner=" + rtltcp.TunerR820T.String()})
				if err != nil {
					srv.Close()
					return err
				}
				defer zc.Shutdown()
			}
			return srv.Serve(ctx)
		},
	}
	bindMockFlags(cmd.Flags(), &cfg, lookup)
	return cmd
}
