package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lorrc/incident-sync/internal/core/domain"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

const defaultTimeout = 15 * time.Second

// Client talks to the incident tracking application's REST API: the
// collection fetch endpoint the reconcilers re-fetch from, and the login
// endpoint that mints stream credentials.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ ports.EntityFetcher = (*Client)(nil)

// NewClient creates a client for the API at baseURL. The token may be empty
// until Login is called.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Token returns the bearer token currently in use.
func (c *Client) Token() string {
	return c.token
}

// collectionPath maps an entity type to its REST collection segment.
func collectionPath(t domain.EntityType) (string, error) {
	switch t {
	case domain.EntityIncident:
		return "incidents", nil
	case domain.EntityFieldReport:
		return "field_reports", nil
	}
	return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownEntityType, t)
}

// FetchCollection returns the full collection for one entity type and scope.
func (c *Client) FetchCollection(ctx context.Context, entityType domain.EntityType, scope string) ([]domain.Record, error) {
	segment, err := collectionPath(entityType)
	if err != nil {
		return nil, err
	}
	if scope == "" {
		return nil, apperrors.ErrScopeRequired
	}

	var body struct {
		Data []domain.Record `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/api/v1/%s?scope=%s", c.baseURL, segment, url.QueryEscape(scope))
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return nil, fmt.Errorf("fetch %s collection: %w", entityType, err)
	}
	return body.Data, nil
}

// FetchEntity returns one entity by key. Authorization failures come back
// as errors.ErrForbidden so the caller can treat the row as invisible.
func (c *Client) FetchEntity(ctx context.Context, entityType domain.EntityType, scope, key string) (domain.Record, error) {
	segment, err := collectionPath(entityType)
	if err != nil {
		return domain.Record{}, err
	}
	if scope == "" {
		return domain.Record{}, apperrors.ErrScopeRequired
	}
	if key == "" {
		return domain.Record{}, apperrors.ErrEntityKeyRequired
	}

	var body struct {
		Data domain.Record `json:"data"`
	}
	endpoint := fmt.Sprintf("%s/api/v1/%s/%s?scope=%s",
		c.baseURL, segment, url.PathEscape(key), url.QueryEscape(scope))
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		return domain.Record{}, fmt.Errorf("fetch %s %q: %w", entityType, key, err)
	}
	return body.Data, nil
}

// Login exchanges credentials for a bearer token and installs it on the
// client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/auth/login", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("login: decode response: %w", err)
	}
	c.token = body.Data.Token
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrForbidden
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
