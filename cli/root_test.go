package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashkit/rotator"
	"clashkit/utils"
)

func findCommand(parent *cobra.Command, name string) *cobra.Command {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommandContainsTopLevelCommands(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"serve", "rotate", "gateway", "version"} {
		assert.NotNil(t, findCommand(root, name), "expected command %q to exist", name)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, utils.Version+"\n", out)
}

func TestRotationErrorCodes(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		code int
	}{
		{name: "missing credentials", err: rotator.ErrMissingCredentials, code: ExitConfig},
		{name: "auth", err: &rotator.AuthError{Err: errors.New("403")}, code: ExitAuth},
		{name: "empty", err: &rotator.EmptyKeySetError{Reason: "no keys"}, code: ExitEmptyKeySet},
		{name: "store", err: &rotator.SecretStoreError{Target: "wrangler", Err: &rotator.SubprocessError{ExitCode: 1}}, code: ExitSecretStore},
		{name: "other", err: errors.New("context canceled"), code: ExitFailure},
	} {
		t.Run(tc.name, func(t *testing.T) {
			exitErr := rotationError(tc.err)
			assert.Equal(t, tc.code, exitErr.Code)
			assert.Contains(t, exitErr.Error(), "Error during rotation: ")
			assert.True(t, errors.Is(exitErr, tc.err))
		})
	}
}

func TestRotate_MissingCredentialsExitsWithConfigCode(t *testing.T) {
	t.Setenv(utils.EnvEmail, "")
	t.Setenv(utils.EnvPassword, "")

	_, err := run(t, "rotate", "--config", filepath.Join("testdata", "absent.json"))
	require.Error(t, err)

	// an explicitly named config must exist
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitConfig, exitErr.Code)

	_, err = run(t, "rotate")
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitConfig, exitErr.Code)
	assert.True(t, errors.Is(err, rotator.ErrMissingCredentials))
}

func TestRotate_UnknownStore(t *testing.T) {
	t.Setenv(utils.EnvEmail, "chief@example.com")
	t.Setenv(utils.EnvPassword, "hunter2")

	_, err := run(t, "rotate", "--store", "vault")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitConfig, exitErr.Code)
	assert.Contains(t, exitErr.Error(), "unknown secret store")
}

func TestRotate_SecretNameFlagReachesEveryStore(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	tests := []struct {
		store  string
		target string
	}{
		{utils.SecretStoreCommand, "OTHER"},
		{utils.SecretStoreSecretsManager, "aws-secretsmanager:OTHER"},
	}
	for _, tt := range tests {
		t.Run(tt.store, func(t *testing.T) {
			ro := &rotateOptions{}
			cmd := &cobra.Command{Use: "rotate"}
			ro.bind(cmd)
			require.NoError(t, cmd.ParseFlags([]string{"--store", tt.store, "--secret-name", "OTHER"}))

			conf, err := utils.LoadConfig(filepath.Join(t.TempDir(), "absent.json"), false)
			require.NoError(t, err)
			require.NoError(t, ro.apply(cmd, conf))

			store, err := newSecretStore(context.Background(), conf)
			require.NoError(t, err)
			assert.Contains(t, store.Target(), tt.target)
			assert.NotContains(t, store.Target(), utils.DefaultSecretName)
		})
	}
}

func TestRotate_ConfiguredSecretIdWins(t *testing.T) {
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	conf := &utils.Config{}
	conf.SetDefaults()
	conf.Rotator.Store = utils.SecretStoreSecretsManager
	conf.Rotator.SecretName = "OTHER"
	conf.Rotator.AWS.SecretId = "prod/clash-api-key"

	store, err := newSecretStore(context.Background(), conf)
	require.NoError(t, err)
	assert.Equal(t, "aws-secretsmanager:prod/clash-api-key", store.Target())
}

func TestServe_InvalidDirectory(t *testing.T) {
	_, err := run(t, "serve", "--no-browser", "--dir", filepath.Join(t.TempDir(), "missing"))
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitConfig, exitErr.Code)
}

func TestServe_RejectsArguments(t *testing.T) {
	_, err := run(t, "serve", "extra")
	assert.Error(t, err)
}
