// Command gofm plays live FM radio from an rtl_tcp server.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rjboer/GoFM/internal/logging"
)

func main() {
	if err := newRootCmd(os.LookupEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(lookup lookupFunc) *cobra.Command {
	var logCfg logConfig
	root := &cobra.Command{
		Use:           "gofm",
		Short:         "listen to fm radio from an rtl_tcp server",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logCfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			logging.SetDefault(logger)
			return nil
		},
	}
	bindLogFlags(root.PersistentFlags(), &logCfg, lookup)

	root.AddCommand(newListenCmd(lookup), newDiscoverCmd(lookup), newMockServerCmd(lookup))
	return root
}
