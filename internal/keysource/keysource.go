// Package keysource obtains access keys, either from a literal value or
// from the account API.
package keysource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ooni/sscontrol/internal/accesskey"
	"github.com/ooni/sscontrol/internal/model"
	"github.com/ooni/sscontrol/internal/platerrors"
)

// Source yields the access key to connect with.
type Source interface {
	AccessKey(ctx context.Context) (*accesskey.AccessKey, error)
}

// Static is a [Source] returning a fixed key.
type Static struct {
	raw string
}

var _ Source = Static{}

// NewStatic returns a [Static] source for raw.
func NewStatic(raw string) Static {
	return Static{raw: raw}
}

// AccessKey implements Source.
func (s Static) AccessKey(ctx context.Context) (*accesskey.AccessKey, error) {
	return accesskey.Parse(strings.TrimSpace(s.raw))
}

// ConfigPath is the account API endpoint serving the VPN configuration.
const ConfigPath = "/api/user/vpnconfig"

// maxBodySize bounds how much of a response we read.
const maxBodySize = 64 << 10

// accessKeyFields are the response members that may hold the key, in
// order of preference.
var accessKeyFields = []string{"accessUrl", "access_url", "accessurl"}

// HTTP is a [Source] fetching the key from the account API with a bearer
// token.
type HTTP struct {
	baseURL string
	client  *http.Client
	logger  model.Logger
	token   string
}

var _ Source = &HTTP{}

// NewHTTP returns an [HTTP] source. A nil client means http.DefaultClient.
func NewHTTP(baseURL, token string, client *http.Client, logger model.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger,
		token:   token,
	}
}

// AccessKey implements Source. Transport and server failures are
// FetchConfigFailed, rejected credentials are Unauthenticated, and a bad
// key keeps its parse failure code.
func (h *HTTP) AccessKey(ctx context.Context) (*accesskey.AccessKey, error) {
	url := h.baseURL + ConfigPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, platerrors.Wrap(platerrors.FetchConfigFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Accept", "application/json")

	h.logger.Debugf("keysource: GET %s", url)
	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, platerrors.Wrap(platerrors.OperationCanceled, err)
		}
		return nil, platerrors.Wrap(platerrors.FetchConfigFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, platerrors.Wrap(platerrors.FetchConfigFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, platerrors.Newf(platerrors.Unauthenticated, "failed to fetch VPN config: %s", resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, platerrors.Newf(platerrors.FetchConfigFailed, "failed to fetch VPN config: %s %s",
			resp.Status, strings.TrimSpace(string(body))).WithDetails(map[string]any{
			"status": resp.StatusCode,
			"url":    url,
		})
	}

	raw, err := extractAccessKey(body)
	if err != nil {
		return nil, err
	}
	key, err := accesskey.Parse(raw)
	if err != nil {
		return nil, err
	}
	h.logger.Infof("keysource: fetched %s", key.String())
	return key, nil
}

func extractAccessKey(body []byte) (string, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", platerrors.New(platerrors.FetchConfigFailed, fmt.Sprintf("invalid VPN config response: %s", err.Error()))
	}
	for _, field := range accessKeyFields {
		if s, ok := data[field].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	return "", platerrors.New(platerrors.FetchConfigFailed, "VPN accessUrl missing in response")
}
