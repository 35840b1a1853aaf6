package devportal

import (
	"context"
	"iter"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Keys makes sure the account holds the configured number of keys for the runner ip and yields
// them lazily as opaque records. Missing keys are created; when the account is full, stale keys
// created under the same name for another ip are revoked first.
func (c *Client) Keys(ctx context.Context) (iter.Seq[any], error) {
	keys, err := c.ListKeys(ctx)
	if err != nil {
		return nil, err
	}

	usable := c.usable(keys)
	for missing := c.keyCount - len(usable); missing > 0; missing-- {
		if len(keys) >= MaxKeys {
			stale, ok := c.stale(keys)
			if !ok {
				return nil, ErrKeyLimit
			}
			if err := c.RevokeKey(ctx, stale.ID); err != nil {
				return nil, err
			}
			log.Info().Str("key_id", stale.ID).Strs("cidrs", stale.CIDRRanges).Msg("revoked stale api key")
			keys = without(keys, stale.ID)
		}

		created, err := c.CreateKey(ctx, c.keyName, c.keyDescription, []string{c.ip})
		if err != nil {
			return nil, err
		}
		log.Info().Str("key_id", created.ID).Str("ip", c.ip).Msg("created api key")
		keys = append(keys, created)
		usable = append(usable, created)
	}

	if len(usable) == 0 {
		return nil, errors.New("no api key available for this ip")
	}

	return func(yield func(any) bool) {
		for _, k := range usable {
			if !yield(k) {
				return
			}
		}
	}, nil
}

// usable returns the keys carrying our name that accept the runner ip.
func (c *Client) usable(keys []APIKey) []APIKey {
	out := make([]APIKey, 0, len(keys))
	for _, k := range keys {
		if k.Name == c.keyName && k.AllowsIP(c.ip) {
			out = append(out, k)
		}
	}
	return out
}

// stale returns a key carrying our name that no longer accepts the runner ip.
func (c *Client) stale(keys []APIKey) (APIKey, bool) {
	for _, k := range keys {
		if k.Name == c.keyName && !k.AllowsIP(c.ip) {
			return k, true
		}
	}
	return APIKey{}, false
}

func without(keys []APIKey, id string) []APIKey {
	out := keys[:0:0]
	for _, k := range keys {
		if k.ID != id {
			out = append(out, k)
		}
	}
	return out
}
