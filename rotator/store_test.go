package rotator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clashkit/utils"
)

// TestHelperProcess stands in for the secret CLI when the command store re-executes the test
// binary. It is a no-op in a regular test run.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "no helper command")
		os.Exit(2)
	}

	stdin, _ := io.ReadAll(os.Stdin)
	switch args[1] {
	case "capture":
		out := string(stdin) + "\n" + strings.Join(args[3:], " ")
		if err := os.WriteFile(args[2], []byte(out), 0o600); err != nil {
			os.Exit(2)
		}
		fmt.Println("Success! Uploaded secret")
	case "fail":
		fmt.Println("Creating the secret")
		fmt.Fprintln(os.Stderr, "Authentication error [code: 10000]")
		os.Exit(7)
	}
}

func helperConfig(t *testing.T, args ...string) *utils.Config {
	t.Helper()
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")

	conf := &utils.Config{}
	conf.Rotator.Command = append([]string{os.Args[0], "-test.run=TestHelperProcess", "--"}, args...)
	conf.SetDefaults()
	return conf
}

func TestCommandStore_TokenOnStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "captured")
	store, err := NewCommandStore(helperConfig(t, "capture", out, "put", "{secret}", "--name", "{worker}"))
	require.NoError(t, err)

	require.NoError(t, store.Put(context.Background(), "s3cr3t"))

	captured, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t\nput CLASH_API_KEY --name clash-mcp-server", string(captured))
}

func TestCommandStore_NonZeroExit(t *testing.T) {
	store, err := NewCommandStore(helperConfig(t, "fail"))
	require.NoError(t, err)

	err = store.Put(context.Background(), "s3cr3t")
	require.Error(t, err)

	var subErr *SubprocessError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, 7, subErr.ExitCode)
	assert.Contains(t, subErr.Stderr, "Authentication error")
	assert.Contains(t, subErr.Stdout, "Creating the secret")
	assert.Contains(t, err.Error(), "exit code 7")
	assert.NotContains(t, err.Error(), "s3cr3t")
}

func TestCommandStore_MissingBinary(t *testing.T) {
	conf := &utils.Config{}
	conf.Rotator.Command = []string{filepath.Join(t.TempDir(), "no-such-cli")}
	conf.SetDefaults()

	store, err := NewCommandStore(conf)
	require.NoError(t, err)

	err = store.Put(context.Background(), "s3cr3t")
	var subErr *SubprocessError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, -1, subErr.ExitCode)
}

func TestNewCommandStore_DefaultCommand(t *testing.T) {
	conf := &utils.Config{}
	conf.SetDefaults()
	conf.Rotator.WorkerName = "my-worker"

	store, err := NewCommandStore(conf)
	require.NoError(t, err)
	assert.Equal(t, []string{"npx", "wrangler", "secret", "put", "CLASH_API_KEY", "--name", "my-worker"}, store.Args())
	assert.Equal(t, "npx wrangler secret put CLASH_API_KEY --name my-worker", store.Target())
}
