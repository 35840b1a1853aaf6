package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"clashkit/keystore"
)

// UpstreamError is a non 2xx answer of the Clash API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Clash API Error (%d): %s", e.Status, e.Body)
}

type upstream struct {
	baseUrl string
	timeout time.Duration
	client  *retryablehttp.Client
	keys    keystore.Store
	metrics *metrics
}

// fetch queries the Clash API. For HTTP 200 the body is returned as is. For HTTP 403 the key
// is rotated and the call is tried with the next key until every key was used once. Other
// status codes come back as *UpstreamError.
func (u *upstream) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < u.keys.Len(); attempt++ {
		key := u.keys.Get()

		status, body, err := u.query(ctx, endpoint, key)
		if err != nil {
			return nil, err
		}

		switch {
		case status >= 200 && status <= 299:
			return body, nil
		case status == http.StatusForbidden:
			log.Info().Str("endpoint", endpoint).Msg("api key rejected. Rotating api keys")
			// a concurrent request may have rotated already
			if u.keys.Get() == key {
				u.keys.Rotate()
				u.metrics.keyRotations.Inc()
			}
			lastErr = &UpstreamError{Status: status, Body: string(body)}
		default:
			return nil, &UpstreamError{Status: status, Body: string(body)}
		}
	}
	return nil, lastErr
}

func (u *upstream) query(ctx context.Context, endpoint string, key keystore.Key) (int, []byte, error) {
	// query the api, by creating a short context
	reqCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(reqCtx, http.MethodGet, strings.TrimSuffix(u.baseUrl, "/")+endpoint, nil)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to create clash api request")
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := u.client.Do(req)
	if err != nil {
		return 0, nil, errors.Wrap(err, "the clash api request failed")
	}
	defer resp.Body.Close()
	u.metrics.upstreamDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to read the content of the response json")
	}
	return resp.StatusCode, contents, nil
}
