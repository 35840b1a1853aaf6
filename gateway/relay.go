package gateway

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"clashkit/httpclient"
	"clashkit/utils"
)

// RelayAuthHeader carries the shared relay secret.
const RelayAuthHeader = "X-Relay-Auth"

// maxRelayBody bounds the request body forwarded by the relay.
const maxRelayBody = 1 << 20

// relay forwards a request to an allowed host on behalf of a caller whose own address is not
// whitelisted for its Clash API key. The caller's Authorization header is passed through.
type relay struct {
	secret  []byte
	allowed map[string]struct{}
	limiter *rate.Limiter
	client  *retryablehttp.Client
	metrics *metrics
}

func newRelay(conf *utils.Config, m *metrics) *relay {
	rc := conf.Gateway.Relay
	allowed := make(map[string]struct{}, len(rc.AllowedHosts))
	for _, h := range rc.AllowedHosts {
		allowed[strings.ToLower(h)] = struct{}{}
	}
	return &relay{
		secret:  []byte(rc.Secret),
		allowed: allowed,
		limiter: rate.NewLimiter(rate.Limit(rc.Rate), rc.Burst),
		// relayed calls may not be idempotent
		client:  httpclient.New(0, time.Duration(conf.HttpRequestTimeout)*time.Second),
		metrics: m,
	}
}

func (rl *relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := rl.serve(w, r)
	rl.metrics.relayed.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (rl *relay) serve(w http.ResponseWriter, r *http.Request) int {
	// unauthenticated callers must not drain the bucket shared by the real ones
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(RelayAuthHeader)), rl.secret) != 1 {
		writeError(w, http.StatusUnauthorized, "Unauthorized Relay Access")
		return http.StatusUnauthorized
	}

	if !rl.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return http.StatusTooManyRequests
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		writeError(w, http.StatusBadRequest, "Missing target URL")
		return http.StatusBadRequest
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeError(w, http.StatusBadRequest, "Invalid target URL")
		return http.StatusBadRequest
	}
	if _, ok := rl.allowed[strings.ToLower(u.Hostname())]; !ok {
		writeError(w, http.StatusBadRequest, "Target host not allowed")
		return http.StatusBadRequest
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRelayBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read request body")
		return http.StatusBadRequest
	}

	var payload interface{}
	if len(body) > 0 {
		payload = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(r.Context(), r.Method, u.String(), payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	}
	req.Header.Set("Authorization", r.Header.Get("Authorization"))
	req.Header.Set("Accept", "application/json")
	if ct := r.Header.Get("Content-Type"); ct != "" && len(body) > 0 {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := rl.client.Do(req)
	if err != nil {
		log.Error().Err(err).Str("host", u.Host).Msg("relay request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return http.StatusInternalServerError
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Warn().Err(err).Msg("failed to copy the relayed response")
	}
	return resp.StatusCode
}
