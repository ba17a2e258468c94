package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoFM/internal/mdns"
)

func newDiscoverCmd(lookup lookupFunc) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "list rtl_tcp servers announced via mDNS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := mdns.Discover(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hosts) == 0 {
				fmt.Fprintln(out, "no rtl_tcp servers found")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTANCE\tADDRESS\tTXT")
			for _, h := range hosts {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Instance, h.Addr(), strings.Join(h.TXT, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", envDuration(lookup, "GOFM_DISCOVER_TIMEOUT", discoverTimeout), "How long to browse")
	return cmd
}
