// Package rotator replaces the stored Clash of Clans API key with a fresh one from the
// developer portal.
package rotator

import (
	"context"
	"iter"
	"time"

	"github.com/rs/zerolog/log"

	"clashkit/keystore"
	"clashkit/leaderelection"
	"clashkit/utils"
)

// Session is one authenticated conversation with the key issuer.
type Session interface {
	Login(ctx context.Context, email, password string) error
	// Keys yields opaque key records. Callers only ever take the first one.
	Keys(ctx context.Context) (iter.Seq[any], error)
	Close() error
}

// SessionFactory opens a new, not yet logged in, Session.
type SessionFactory func(ctx context.Context) (Session, error)

type Option func(*Rotator)

// WithElector makes Rotate wait for leadership before touching the portal.
func WithElector(e leaderelection.Elector) Option {
	return func(r *Rotator) {
		r.elector = e
	}
}

type Rotator struct {
	email    string
	password string

	sessions SessionFactory
	store    SecretStore
	elector  leaderelection.Elector
}

// Result describes a successful rotation. It never carries the token.
type Result struct {
	KeyID    string
	Target   string
	Duration time.Duration
}

func NewRotator(conf *utils.Config, sessions SessionFactory, store SecretStore, opts ...Option) *Rotator {
	r := &Rotator{
		email:    conf.Rotator.Email,
		password: conf.Rotator.Password,
		sessions: sessions,
		store:    store,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Rotate logs in, takes the first key record the session yields and writes its token to the
// secret store exactly once. Failures come back as ErrMissingCredentials, *AuthError,
// *EmptyKeySetError or *SecretStoreError. Nothing is retried.
func (r *Rotator) Rotate(ctx context.Context) (Result, error) {
	start := time.Now()

	if r.email == "" || r.password == "" {
		return Result{}, ErrMissingCredentials
	}

	if r.elector != nil {
		if err := r.elector.Campaign(ctx); err != nil {
			return Result{}, err
		}
		defer func() {
			if err := r.elector.Resign(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to resign rotation leadership")
			}
		}()
	}

	session, err := r.sessions(ctx)
	if err != nil {
		return Result{}, &AuthError{Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close the portal session")
		}
	}()

	if err := session.Login(ctx, r.email, r.password); err != nil {
		return Result{}, &AuthError{Err: err}
	}
	log.Debug().Msg("logged in")

	keys, err := session.Keys(ctx)
	if err != nil {
		return Result{}, &EmptyKeySetError{Reason: "listing keys failed", Err: err}
	}
	rec, ok := keystore.First(keys)
	if !ok {
		return Result{}, &EmptyKeySetError{Reason: "the account holds no keys"}
	}

	token, err := ExtractToken(rec)
	if err != nil {
		return Result{}, err
	}
	id := recordID(rec)
	log.Debug().Str("key_id", id).Msg("fetched api key")

	if err := r.store.Put(ctx, token); err != nil {
		return Result{}, &SecretStoreError{Target: r.store.Target(), Err: err}
	}

	return Result{
		KeyID:    id,
		Target:   r.store.Target(),
		Duration: time.Since(start),
	}, nil
}
