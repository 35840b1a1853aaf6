package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clashkit/devportal"
	"clashkit/leaderelection"
	"clashkit/rotator"
	"clashkit/utils"
)

type rotateOptions struct {
	prompt bool
	store  string
	worker string
	secret string
}

func (o *rotateOptions) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.prompt, "prompt", false, "ask for the portal password when "+utils.EnvPassword+" is unset")
	cmd.Flags().StringVar(&o.store, "store", "", "secret store: "+utils.SecretStoreCommand+" or "+utils.SecretStoreSecretsManager)
	cmd.Flags().StringVar(&o.worker, "worker", "", "worker receiving the secret")
	cmd.Flags().StringVar(&o.secret, "secret-name", "", "name of the secret holding the key")
}

// apply layers the flags the operator set on top of the loaded config.
func (o *rotateOptions) apply(cmd *cobra.Command, conf *utils.Config) error {
	flags := cmd.Flags()
	if flags.Changed("store") {
		conf.Rotator.Store = o.store
	}
	if flags.Changed("worker") {
		conf.Rotator.WorkerName = o.worker
	}
	if flags.Changed("secret-name") {
		conf.Rotator.SecretName = o.secret
	}
	if o.prompt && conf.Rotator.Password == "" {
		password, err := readPassword(cmd)
		if err != nil {
			return configError(err)
		}
		conf.Rotator.Password = password
	}
	return nil
}

func newRotateCommand(opts *GlobalOptions) *cobra.Command {
	ro := &rotateOptions{}

	cmd := &cobra.Command{
		Use:   "rotate",
		Short: "Fetch a fresh API key from the developer portal and store it as a secret",
		Long: "rotate logs into the Clash of Clans developer portal with COC_EMAIL and COC_PASSWORD, " +
			"takes the first API key usable from this machine and hands it to the secret store.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := ro.apply(cmd, conf); err != nil {
				return err
			}
			return runRotation(cmd.Context(), conf)
		},
	}

	ro.bind(cmd)
	return cmd
}

func runRotation(ctx context.Context, conf *utils.Config) error {
	store, err := newSecretStore(ctx, conf)
	if err != nil {
		return configError(err)
	}

	hostname, _ := os.Hostname()
	elector, err := leaderelection.New(ctx, conf, hostname)
	if err != nil {
		return configError(err)
	}
	defer func() {
		if err := elector.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close the leader elector")
		}
	}()

	sessions := func(context.Context) (rotator.Session, error) {
		return devportal.NewClient(conf)
	}

	result, err := rotator.NewRotator(conf, sessions, store, rotator.WithElector(elector)).Rotate(ctx)
	if err != nil {
		return rotationError(err)
	}

	log.Info().
		Str("key_id", result.KeyID).
		Str("target", result.Target).
		Dur("took", result.Duration).
		Msg("Successfully rotated key and updated secret")
	return nil
}

func newSecretStore(ctx context.Context, conf *utils.Config) (rotator.SecretStore, error) {
	switch conf.Rotator.Store {
	case utils.SecretStoreCommand:
		return rotator.NewCommandStore(conf)
	case utils.SecretStoreSecretsManager:
		return rotator.NewSecretsManagerStore(ctx, conf)
	default:
		return nil, errors.Errorf("unknown secret store %q", conf.Rotator.Store)
	}
}

func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--prompt needs an interactive terminal")
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Developer portal password: ")
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", errors.Wrap(err, "failed to read the password")
	}
	return string(password), nil
}
