package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/blackmichael/bluesky-migrate/internal/domain"
)

const defaultPDS = "https://bsky.social"

// Client is a minimal AT Protocol XRPC client for migrating posts to a PDS.
// It holds no credentials; authenticated calls take an access token from a
// SessionManager.
type Client struct {
	pds        string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new BlueSky API client. If pds is empty, it defaults to
// https://bsky.social.
func NewClient(pds string, opts ...Option) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	c := &Client{
		pds: pds,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PDS returns the base URL of the server this client talks to.
func (c *Client) PDS() string {
	return c.pds
}

// Grant is the result of a successful createSession exchange.
type Grant struct {
	AccessJwt string
	DID       string
	Handle    string

	// Lifetime is the token lifetime announced by the server, zero if the
	// response did not carry one.
	Lifetime time.Duration
}

// CreateSession exchanges an identifier and app password for an access
// token. Use an App Password, not your account password.
func (c *Client) CreateSession(ctx context.Context, identifier, password string) (*Grant, error) {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", "", body, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if resp.AccessJwt == "" || resp.DID == "" {
		return nil, fmt.Errorf("create session: response missing accessJwt or did")
	}

	return &Grant{
		AccessJwt: resp.AccessJwt,
		DID:       resp.DID,
		Handle:    resp.Handle,
		Lifetime:  time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

// ResolveHandle returns the DID for a handle. A 4xx response means the
// handle does not resolve and is reported as ErrHandleNotFound.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	path := "/xrpc/com.atproto.identity.resolveHandle?" + url.Values{"handle": {handle}}.Encode()

	var resp resolveHandleResponse
	if err := c.do(ctx, http.MethodGet, path, "", nil, "", &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
			return "", fmt.Errorf("%w: %s", ErrHandleNotFound, handle)
		}
		return "", fmt.Errorf("resolve handle %s: %w", handle, err)
	}
	if resp.DID == "" {
		return "", fmt.Errorf("%w: %s", ErrHandleNotFound, handle)
	}
	return resp.DID, nil
}

// BlobRef represents an AT Protocol blob reference for uploaded content.
type BlobRef struct {
	Type string `json:"$type"`
	Ref  struct {
		Link string `json:"$link"`
	} `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// NewBlobRef builds a blob reference in the minimal lexicon shape.
func NewBlobRef(link, mimeType string, size int64) BlobRef {
	b := BlobRef{Type: "blob", MimeType: mimeType, Size: size}
	b.Ref.Link = link
	return b
}

// UploadBlob uploads raw bytes as a blob and returns a reference.
// The blob will be deleted if not referenced in a record within a time window.
func (c *Client) UploadBlob(ctx context.Context, token string, data []byte, mimeType string) (*BlobRef, error) {
	raw, err := c.UploadBlobRaw(ctx, token, data, mimeType)
	if err != nil {
		return nil, err
	}

	var blob BlobRef
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("unmarshal blob: %w", err)
	}
	return &blob, nil
}

// UploadBlobRaw uploads raw bytes and returns the undecoded blob object from
// the response, for callers that need fields beyond BlobRef.
func (c *Client) UploadBlobRaw(ctx context.Context, token string, data []byte, mimeType string) (json.RawMessage, error) {
	if token == "" {
		return nil, fmt.Errorf("upload blob: %w", ErrNotAuthenticated)
	}

	var result uploadBlobResponse
	if err := c.do(ctx, http.MethodPost, "/xrpc/com.atproto.repo.uploadBlob", token, bytes.NewReader(data), mimeType, &result); err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}
	if len(result.Blob) == 0 {
		return nil, fmt.Errorf("upload blob: response missing blob")
	}
	return result.Blob, nil
}

// CreateRecord writes a new record into repo via com.atproto.repo.createRecord
// and returns its strong reference.
func (c *Client) CreateRecord(ctx context.Context, token, repo, collection string, record any) (domain.StrongRef, error) {
	if token == "" {
		return domain.StrongRef{}, fmt.Errorf("create record: %w", ErrNotAuthenticated)
	}

	body := createRecordRequest{
		Repo:       repo,
		Collection: collection,
		Record:     record,
	}

	var resp domain.StrongRef
	if err := c.post(ctx, "/xrpc/com.atproto.repo.createRecord", token, body, &resp); err != nil {
		return domain.StrongRef{}, fmt.Errorf("create record: %w", err)
	}
	if resp.URI == "" {
		return domain.StrongRef{}, fmt.Errorf("create record: response missing uri")
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path, token string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, token, bytes.NewReader(payload), "application/json", result)
}

func (c *Client) do(ctx context.Context, method, path, token string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.pds+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type uploadBlobResponse struct {
	Blob json.RawMessage `json:"blob"`
}
