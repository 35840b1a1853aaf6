package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"clashkit/gateway"
)

func newGatewayCommand(opts *GlobalOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Serve the cached Clash of Clans API for the dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				conf.Gateway.Host = host
			}
			if cmd.Flags().Changed("port") {
				conf.Gateway.Port = port
			}

			gw, err := gateway.NewGateway(conf)
			if err != nil {
				return configError(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errChan := gw.RunAsync(ctx)
			select {
			case err := <-errChan:
				return err
			case <-ctx.Done():
				log.Info().Msg("signal received...exiting")
				<-gw.Done()
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "interface to bind")
	cmd.Flags().IntVar(&port, "port", 0, "port to bind")
	return cmd
}
