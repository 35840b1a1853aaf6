package cli

import (
	"fmt"

	"github.com/pkg/errors"

	"clashkit/rotator"
)

// exit codes, one per failure kind
const (
	ExitFailure     = 1
	ExitConfig      = 2
	ExitAuth        = 3
	ExitEmptyKeySet = 4
	ExitSecretStore = 5
)

// ExitError carries process exit code for command-specific failures.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exit with code %d", e.Code)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func configError(err error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: err.Error(), Err: err}
}

// rotationError maps a rotator failure to its exit code.
func rotationError(err error) *ExitError {
	code := ExitFailure
	var (
		authErr  *rotator.AuthError
		emptyErr *rotator.EmptyKeySetError
		storeErr *rotator.SecretStoreError
	)
	switch {
	case errors.Is(err, rotator.ErrMissingCredentials):
		code = ExitConfig
	case errors.As(err, &authErr):
		code = ExitAuth
	case errors.As(err, &emptyErr):
		code = ExitEmptyKeySet
	case errors.As(err, &storeErr):
		code = ExitSecretStore
	}
	return &ExitError{Code: code, Message: "Error during rotation: " + err.Error(), Err: err}
}
