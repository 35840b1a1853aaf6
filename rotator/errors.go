package rotator

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrMissingCredentials is returned before any remote call when the portal email or password is
// empty.
var ErrMissingCredentials = errors.New("developer portal credentials are not set")

// AuthError means the portal session could not be opened or the login was refused.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// EmptyKeySetError means no usable token came out of the key listing.
type EmptyKeySetError struct {
	Reason string
	Err    error
}

func (e *EmptyKeySetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no api key available: %s: %v", e.Reason, e.Err)
	}
	return "no api key available: " + e.Reason
}

func (e *EmptyKeySetError) Unwrap() error { return e.Err }

// SubprocessError is a secret command that could not start or exited non-zero. The captured
// output is kept for the operator.
type SubprocessError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *SubprocessError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q failed", strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if e.Err != nil && e.ExitCode < 0 {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Stderr); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	} else if out := strings.TrimSpace(e.Stdout); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	}
	return b.String()
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// SecretStoreError means the secret store did not accept the new token.
type SecretStoreError struct {
	Target string
	Err    error
}

func (e *SecretStoreError) Error() string {
	return fmt.Sprintf("failed to update secret %s: %v", e.Target, e.Err)
}

func (e *SecretStoreError) Unwrap() error { return e.Err }
