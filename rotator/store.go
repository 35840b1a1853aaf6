package rotator

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"clashkit/utils"
)

// SecretStore persists a rotated token somewhere the consumers of the key read it from.
type SecretStore interface {
	// Put replaces the stored token
	Put(ctx context.Context, token string) error
	// Target names the destination for logs and results
	Target() string
}

// CommandStore hands the token to an external CLI on its standard input. The default command
// is wrangler, which stores it as a Cloudflare worker secret.
type CommandStore struct {
	args []string
}

// NewCommandStore expands the {secret} and {worker} placeholders of the configured command.
func NewCommandStore(conf *utils.Config) (*CommandStore, error) {
	rc := &conf.Rotator
	if len(rc.Command) == 0 {
		return nil, errors.New("secret command is empty")
	}

	replacer := strings.NewReplacer("{secret}", rc.SecretName, "{worker}", rc.WorkerName)
	args := make([]string, len(rc.Command))
	for i, arg := range rc.Command {
		args[i] = replacer.Replace(arg)
	}
	return &CommandStore{args: args}, nil
}

func (c *CommandStore) Args() []string {
	return append([]string(nil), c.args...)
}

func (c *CommandStore) Target() string {
	return strings.Join(c.args, " ")
}

// Put runs the command once. Output is captured, not streamed, and surfaces in the
// *SubprocessError of a failed run.
func (c *CommandStore) Put(ctx context.Context, token string) error {
	cmd := exec.CommandContext(ctx, c.args[0], c.args[1:]...)
	cmd.Stdin = strings.NewReader(token)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		log.Debug().Str("command", c.args[0]).Str("output", strings.TrimSpace(stdout.String())).Msg("secret command finished")
		return nil
	}

	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return &SubprocessError{
		Args:     c.Args(),
		ExitCode: code,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Err:      err,
	}
}
