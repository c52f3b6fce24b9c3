// Package cloud talks to the remote code-index service. The Client wraps the
// HTTP API behind a small Service interface so callers can swap in fakes.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultEndpoint = "https://api.kilocode.ai"

// Service is the remote surface the sync engine depends on.
type Service interface {
	// FetchOrganization returns the organization record, or (nil, nil) when
	// the organization does not exist.
	FetchOrganization(ctx context.Context, orgID string) (*Organization, error)
	// GetServerManifest returns the set of files the service already holds
	// for the project on the given branch.
	GetServerManifest(ctx context.Context, orgID, projectID, branch string) (*ServerManifest, error)
	// UpsertFile uploads one file revision.
	UpsertFile(ctx context.Context, orgID, projectID string, req UpsertFileRequest) error
	// Ping checks that the service is reachable.
	Ping(ctx context.Context) error
}

// Organization describes an account and the features enabled for it.
type Organization struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Features OrganizationFeatures `json:"features"`
}

type OrganizationFeatures struct {
	CodeIndexing bool `json:"codeIndexing"`
}

// CodeIndexingEnabled reports whether indexing is switched on for the
// organization. A missing organization counts as disabled.
func (o *Organization) CodeIndexingEnabled() bool {
	return o != nil && o.Features.CodeIndexing
}

// ManifestFile is one entry of a server manifest.
type ManifestFile struct {
	FilePath string `json:"filePath"`
	FileHash string `json:"fileHash"`
}

// ServerManifest lists every file the service holds for a project branch.
type ServerManifest struct {
	Files []ManifestFile `json:"files"`
}

// Index returns the manifest as a path→hash lookup table.
func (m *ServerManifest) Index() map[string]string {
	if m == nil {
		return nil
	}
	idx := make(map[string]string, len(m.Files))
	for _, f := range m.Files {
		idx[f.FilePath] = f.FileHash
	}
	return idx
}

// UpsertFileRequest is the upload payload for one file revision. Content is
// base64-encoded by the caller.
type UpsertFileRequest struct {
	FileHash     string `json:"fileHash"`
	FilePath     string `json:"filePath"`
	GitBranch    string `json:"gitBranch"`
	IsBaseBranch bool   `json:"isBaseBranch"`
	Content      string `json:"content"`
}

// APIError is a non-2xx response decoded into a typed error.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Client implements Service over HTTP.
type Client struct {
	endpoint       string
	token          string
	testerOverride bool
	client         *http.Client
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = strings.TrimRight(endpoint, "/")
	}
}

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTesterOverride makes organization lookups bypass the feature-flag
// rollout, for accounts enrolled as testers.
func WithTesterOverride(enabled bool) Option {
	return func(c *Client) {
		c.testerOverride = enabled
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		endpoint: defaultEndpoint,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" {
		c.token = os.Getenv("KILOCODE_TOKEN")
	}
	if c.token == "" {
		return nil, fmt.Errorf("api token not set (use KILOCODE_TOKEN environment variable)")
	}

	return c, nil
}

// do sends one request and decodes the response into out when it is non-nil.
// Non-2xx responses come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			apiErr.Message = errResp.Error.Message
			apiErr.Code = errResp.Error.Code
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) FetchOrganization(ctx context.Context, orgID string) (*Organization, error) {
	query := url.Values{}
	if c.testerOverride {
		query.Set("tester", "1")
	}

	var org Organization
	err := c.do(ctx, http.MethodGet, "/api/v1/organizations/"+url.PathEscape(orgID), query, nil, &org)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch organization %s: %w", orgID, err)
	}
	return &org, nil
}

func (c *Client) GetServerManifest(ctx context.Context, orgID, projectID, branch string) (*ServerManifest, error) {
	path := fmt.Sprintf("/api/v1/organizations/%s/projects/%s/manifest",
		url.PathEscape(orgID), url.PathEscape(projectID))
	query := url.Values{"branch": {branch}}

	var manifest ServerManifest
	if err := c.do(ctx, http.MethodGet, path, query, nil, &manifest); err != nil {
		return nil, fmt.Errorf("failed to fetch manifest for project %s: %w", projectID, err)
	}
	return &manifest, nil
}

func (c *Client) UpsertFile(ctx context.Context, orgID, projectID string, req UpsertFileRequest) error {
	path := fmt.Sprintf("/api/v1/organizations/%s/projects/%s/files",
		url.PathEscape(orgID), url.PathEscape(projectID))

	if err := c.do(ctx, http.MethodPost, path, nil, req, nil); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", req.FilePath, err)
	}
	return nil
}

// Ping checks if the service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil); err != nil {
		return fmt.Errorf("failed to reach service at %s: %w", c.endpoint, err)
	}
	return nil
}
