package keystore

import (
	"github.com/pkg/errors"
)

var ErrEmptyKeyStore = errors.New("empty keystore, unable to find any keys")

type (
	// Key is a Clash of Clans API token.
	Key = string

	// Store hands out the API key currently in use and moves to the next one through Rotate.
	// Implementations must be safe for concurrent use by HTTP handlers.
	Store interface {
		Rotate()
		Get() Key
		Len() int
	}
)
