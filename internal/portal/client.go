// Package portal talks to the membership platform's admin API to keep
// portal member profiles in line with what the CRM holds.
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// MemberFields are the profile custom fields pushed to the membership
// platform.
type MemberFields struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	JobTitle   string `json:"jobTitle"`
	AmazonSite string `json:"amazonSite"`
}

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a membership admin API client. baseURL defaults to the
// hosted admin endpoint when empty.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://admin.memberstack.com"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// FindMemberID resolves a member id from an email address. Returns an empty
// id when the member does not exist.
func (c *Client) FindMemberID(ctx context.Context, email string) (string, error) {
	endpoint := fmt.Sprintf("%s/members/%s", c.baseURL, url.PathEscape(email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build member lookup: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("member lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError("member lookup", resp)
	}

	// the id is either top-level or nested under data depending on API
	// version
	var body struct {
		ID   string `json:"id"`
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode member lookup: %w", err)
	}
	if body.ID != "" {
		return body.ID, nil
	}
	return body.Data.ID, nil
}

// UpdateMember patches a member's profile custom fields and returns the
// member id.
func (c *Client) UpdateMember(ctx context.Context, email string, fields MemberFields) (string, error) {
	memberID, err := c.FindMemberID(ctx, email)
	if err != nil {
		return "", err
	}
	if memberID == "" {
		return "", fmt.Errorf("member %q not found", email)
	}

	payload, err := json.Marshal(map[string]any{
		"customFields": map[string]string{
			"first-name":  fields.FirstName,
			"last-name":   fields.LastName,
			"job-title":   fields.JobTitle,
			"amazon-site": fields.AmazonSite,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal member update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/members/%s", c.baseURL, url.PathEscape(memberID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build member update: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("member update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError("member update", resp)
	}
	return memberID, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(body))
}
