// Package devportal talks to the Clash of Clans developer portal, which issues the IP bound
// API keys used against the game API.
package devportal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"clashkit/httpclient"
	"clashkit/utils"
)

// MaxKeys is the number of keys the portal allows per developer account.
const MaxKeys = 10

var (
	ErrInvalidCredentials = errors.New("invalid developer portal credentials")
	ErrNotLoggedIn        = errors.New("developer portal session is not logged in")
	ErrKeyLimit           = errors.New("developer account has no free key slot and no stale key to revoke")
	ErrUnknownIP          = errors.New("unable to determine the runner ip from the portal token")
)

// APIKey is a key record as returned by the portal.
type APIKey struct {
	ID          string   `json:"id"`
	DeveloperID string   `json:"developerId"`
	Tier        string   `json:"tier"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Origins     []string `json:"origins"`
	Scopes      []string `json:"scopes"`
	CIDRRanges  []string `json:"cidrRanges"`
	ValidUntil  *string  `json:"validUntil"`
	Key         string   `json:"key"`
}

// AllowsIP reports whether the key may be used from ip.
func (k APIKey) AllowsIP(ip string) bool {
	for _, cidr := range k.CIDRRanges {
		if strings.TrimSuffix(cidr, "/32") == ip {
			return true
		}
	}
	return false
}

type status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

// Client is a single portal session. It is not safe for concurrent use.
type Client struct {
	baseUrl string
	http    *retryablehttp.Client
	jar     *cookiejar.Jar

	keyName        string
	keyDescription string
	keyCount       int

	loggedIn bool
	ip       string
}

func NewClient(conf *utils.Config) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the session cookie jar")
	}

	hc := httpclient.New(conf.Portal.Retries, time.Duration(conf.HttpRequestTimeout)*time.Second)
	hc.HTTPClient.Jar = jar

	count := conf.Portal.KeyCount
	if count < 1 {
		count = 1
	}
	return &Client{
		baseUrl:        strings.TrimSuffix(conf.Portal.BaseUrl, "/"),
		http:           hc,
		jar:            jar,
		keyName:        conf.Portal.KeyName,
		keyDescription: conf.Portal.KeyDescription,
		keyCount:       count,
	}, nil
}

// IP is the public address of this runner as seen by the portal, known after Login.
func (c *Client) IP() string {
	return c.ip
}

// Login opens a session. The portal answers 403 for a wrong email or password.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var out struct {
		Status            status `json:"status"`
		TemporaryAPIToken string `json:"temporaryAPIToken"`
	}
	err := c.post(ctx, "/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == http.StatusForbidden || se.Code == http.StatusUnauthorized) {
			return errors.Wrap(ErrInvalidCredentials, se.Error())
		}
		return errors.Wrap(err, "login request failed")
	}

	ip, err := ipFromToken(out.TemporaryAPIToken)
	if err != nil {
		return err
	}

	c.loggedIn = true
	c.ip = ip
	log.Debug().Str("ip", ip).Msg("logged into the developer portal")
	return nil
}

// ListKeys returns every key of the account.
func (c *Client) ListKeys(ctx context.Context) ([]APIKey, error) {
	if !c.loggedIn {
		return nil, ErrNotLoggedIn
	}
	var out struct {
		Keys []APIKey `json:"keys"`
	}
	if err := c.post(ctx, "/apikey/list", struct{}{}, &out); err != nil {
		return nil, errors.Wrap(err, "failed to list api keys")
	}
	return out.Keys, nil
}

// CreateKey creates a key usable from the given addresses.
func (c *Client) CreateKey(ctx context.Context, name, description string, cidrs []string) (APIKey, error) {
	if !c.loggedIn {
		return APIKey{}, ErrNotLoggedIn
	}
	in := map[string]interface{}{
		"name":        name,
		"description": description,
		"cidrRanges":  cidrs,
		"scopes":      []string{"clash"},
	}
	var out struct {
		Key APIKey `json:"key"`
	}
	if err := c.post(ctx, "/apikey/create", in, &out); err != nil {
		return APIKey{}, errors.Wrap(err, "failed to create api key")
	}
	return out.Key, nil
}

// RevokeKey deletes the key with the given id.
func (c *Client) RevokeKey(ctx context.Context, id string) error {
	if !c.loggedIn {
		return ErrNotLoggedIn
	}
	if err := c.post(ctx, "/apikey/revoke", map[string]string{"id": id}, nil); err != nil {
		return errors.Wrapf(err, "failed to revoke api key %s", id)
	}
	return nil
}

// Close logs out, best effort, then drops the session cookies and idle connections. It is safe
// to call more than once.
func (c *Client) Close() error {
	if c.loggedIn {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.post(ctx, "/logout", struct{}{}, nil); err != nil {
			log.Debug().Err(err).Msg("developer portal logout failed")
		}
		cancel()
	}
	c.loggedIn = false
	if jar, err := cookiejar.New(nil); err == nil {
		c.jar = jar
		c.http.HTTPClient.Jar = jar
	}
	c.http.HTTPClient.CloseIdleConnections()
	return nil
}

// StatusError is a non 2xx portal answer.
type StatusError struct {
	Path    string
	Code    int
	Reason  string
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("developer portal %s answered %d: %s", e.Path, e.Code, msg)
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Path: path, Code: resp.StatusCode}
		var payload struct {
			Status status `json:"status"`
			Reason string `json:"reason"`
		}
		if json.Unmarshal(contents, &payload) == nil {
			se.Message = payload.Status.Message
			se.Reason = payload.Reason
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(contents, out); err != nil {
		return errors.Wrapf(err, "unable to decode %s response", path)
	}
	return nil
}
