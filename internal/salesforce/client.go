// Package salesforce is a thin REST client for the Salesforce data API:
// password-grant authentication, SOQL queries, and sobject writes.
package salesforce

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
)

// Config holds credentials for the password grant flow
type Config struct {
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Username      string
	Password      string
	SecurityToken string
	APIVersion    string
	Timeout       time.Duration
}

// Token is an access token bound to an org instance URL
type Token struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

// TokenCache stores tokens between requests so every portal call does not
// pay for a fresh OAuth round trip.
type TokenCache interface {
	Get(ctx context.Context) (Token, bool)
	Put(ctx context.Context, token Token)
}

type Client struct {
	config Config
	http   *http.Client
	cache  TokenCache
}

// QueryResult mirrors the Salesforce query endpoint response envelope.
type QueryResult struct {
	TotalSize int              `json:"totalSize"`
	Done      bool             `json:"done"`
	Records   []map[string]any `json:"records"`
}

// NewClient creates a client. cache may be nil, in which case every call
// authenticates from scratch.
func NewClient(config Config, cache TokenCache) *Client {
	if config.APIVersion == "" {
		config.APIVersion = "v61.0"
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: timeout},
		cache:  cache,
	}
}

// Authenticate returns a valid token, reusing the cached one while it still
// passes the validity probe.
func (c *Client) Authenticate(ctx context.Context) (Token, error) {
	if c.cache != nil {
		if token, ok := c.cache.Get(ctx); ok && c.tokenValid(ctx, token) {
			return token, nil
		}
	}

	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.config.ClientID},
		"client_secret": {c.config.ClientSecret},
		"username":      {c.config.Username},
		"password":      {c.config.Password + c.config.SecurityToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Token{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token Token
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" || token.InstanceURL == "" {
		return Token{}, fmt.Errorf("token endpoint returned empty token")
	}

	if c.cache != nil {
		c.cache.Put(ctx, token)
	}
	return token, nil
}

// tokenValid probes the data services root with the token
func (c *Client) tokenValid(ctx context.Context, token Token) bool {
	probeURL := fmt.Sprintf("%s/services/data/%s/", token.InstanceURL, c.config.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Query runs a SOQL query and returns the decoded result envelope.
func (c *Client) Query(ctx context.Context, soql string) (QueryResult, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return QueryResult{}, err
	}

	queryURL := fmt.Sprintf("%s/services/data/%s/query?q=%s", token.InstanceURL, c.config.APIVersion, url.QueryEscape(soql))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return QueryResult{}, fmt.Errorf("build query request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return QueryResult{}, fmt.Errorf("run query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return QueryResult{}, apiError("query", resp)
	}

	var result QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return QueryResult{}, fmt.Errorf("decode query response: %w", err)
	}
	return result, nil
}

// Create inserts an sobject record and returns its id.
func (c *Client) Create(ctx context.Context, object string, fields map[string]any) (string, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal %s fields: %w", object, err)
	}
	createURL := fmt.Sprintf("%s/services/data/%s/sobjects/%s/", token.InstanceURL, c.config.APIVersion, object)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build create request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", object, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", apiError("create "+object, resp)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return created.ID, nil
}

// Update patches fields on an existing record. Salesforce answers 204.
func (c *Client) Update(ctx context.Context, object, id string, fields map[string]any) error {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal %s fields: %w", object, err)
	}
	updateURL := fmt.Sprintf("%s/services/data/%s/sobjects/%s/%s", token.InstanceURL, c.config.APIVersion, object, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, updateURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build update request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", object, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError("update "+object, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Delete removes a record. Salesforce answers 204.
func (c *Client) Delete(ctx context.Context, object, id string) error {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}

	deleteURL := fmt.Sprintf("%s/services/data/%s/sobjects/%s/%s", token.InstanceURL, c.config.APIVersion, object, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", object, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError("delete "+object, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// InstanceURL returns the instance URL of the current token, authenticating
// if needed. Used to build Lightning record links.
func (c *Client) InstanceURL(ctx context.Context) (string, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	return token.InstanceURL, nil
}

func (c *Client) setHeaders(req *http.Request, token Token) {
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Content-Type", "application/json")
}

func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
