package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clashkit/server"
)

func newServeCommand(opts *GlobalOptions) *cobra.Command {
	var (
		dir       string
		host      string
		port      int
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard and open it in the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("dir") {
				conf.Dashboard.Dir = dir
			}
			if flags.Changed("host") {
				conf.Dashboard.Host = host
			}
			if flags.Changed("port") {
				conf.Dashboard.Port = port
			}
			if noBrowser {
				open := false
				conf.Dashboard.OpenBrowser = &open
			}

			srv, err := server.NewServer(conf)
			if err != nil {
				return configError(err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "directory to serve (default: the executable's directory)")
	cmd.Flags().StringVar(&host, "host", "", "interface to bind")
	cmd.Flags().IntVar(&port, "port", 0, "port to bind")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "do not open the dashboard in a browser")
	return cmd
}
