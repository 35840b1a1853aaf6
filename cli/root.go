// Package cli wires the clashkit commands.
package cli

import (
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"clashkit/utils"
)

// GlobalOptions are the flags shared by every command.
type GlobalOptions struct {
	ConfigFile string
	Debug      bool
}

func NewRootCommand() *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:           "clashkit",
		Short:         "Clash of Clans dashboard tooling",
		Long:          "clashkit serves the clan dashboard, proxies the Clash of Clans API for it and rotates the API key it uses.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogger(cmd.ErrOrStderr(), cmd.Name(), opts.Debug)

			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return configError(errors.Wrap(err, "failed to load .env"))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", utils.DefaultConfigFile, "config file used by clashkit")
	cmd.PersistentFlags().BoolVar(&opts.Debug, "debug", false, "to enable debug level logging")

	cmd.AddCommand(
		newServeCommand(opts),
		newRotateCommand(opts),
		newGatewayCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// loadConfig reads the config file and layers the environment on top. The default file may be
// absent; a file named on the command line must exist.
func (o *GlobalOptions) loadConfig(cmd *cobra.Command) (*utils.Config, error) {
	explicit := cmd.Flags().Changed("config")
	conf, err := utils.LoadConfig(o.ConfigFile, explicit)
	if err != nil {
		return nil, configError(err)
	}
	conf.ApplyEnv()
	return conf, nil
}

func setupLogger(w io.Writer, component string, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Str("component", component).Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	setupLogger(os.Stderr, "clashkit", false)

	err := NewRootCommand().Execute()
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		log.Error().Int("code", exitErr.Code).Msg(exitErr.Error())
		return exitErr.Code
	}
	log.Error().Err(err).Msg("command failed")
	return ExitFailure
}
