package appwrite

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

const defaultTimeout = 15 * time.Second

// Client talks to the Appwrite Databases REST API of a single project.
type Client struct {
	endpoint   string
	projectID  string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient creates a client for the project. The endpoint includes the API
// version path, e.g. https://cloud.appwrite.io/v1.
func NewClient(endpoint, projectID, apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:  strings.TrimSuffix(endpoint, "/"),
		projectID: projectID,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type Database struct {
	ID        string `json:"$id"`
	Name      string `json:"name"`
	CreatedAt string `json:"$createdAt"`
	UpdatedAt string `json:"$updatedAt"`
	Enabled   bool   `json:"enabled"`
}

type Collection struct {
	ID               string   `json:"$id"`
	DatabaseID       string   `json:"databaseId"`
	Name             string   `json:"name"`
	Permissions      []string `json:"$permissions"`
	DocumentSecurity bool     `json:"documentSecurity"`
	Enabled          bool     `json:"enabled"`
}

type Document struct {
	ID           string `json:"$id"`
	CollectionID string `json:"$collectionId"`
	DatabaseID   string `json:"$databaseId"`
	CreatedAt    string `json:"$createdAt"`
	UpdatedAt    string `json:"$updatedAt"`
}

type CreateCollectionRequest struct {
	DatabaseID       string   `json:"-"`
	CollectionID     string   `json:"collectionId"`
	Name             string   `json:"name"`
	Permissions      []string `json:"permissions"`
	DocumentSecurity bool     `json:"documentSecurity"`
	Enabled          bool     `json:"enabled"`
}

// GetDatabase fetches a database by id.
func (c *Client) GetDatabase(ctx context.Context, databaseID string) (Database, error) {
	var out Database
	err := c.do(ctx, http.MethodGet, path("databases", databaseID), nil, &out)
	if err != nil {
		return Database{}, fmt.Errorf("get database %s: %w", databaseID, err)
	}
	return out, nil
}

// CreateDatabase creates a database with the given id and display name.
func (c *Client) CreateDatabase(ctx context.Context, databaseID, name string) (Database, error) {
	body := map[string]any{
		"databaseId": databaseID,
		"name":       name,
	}

	var out Database
	if err := c.do(ctx, http.MethodPost, path("databases"), body, &out); err != nil {
		return Database{}, fmt.Errorf("create database %s: %w", databaseID, err)
	}
	return out, nil
}

// GetCollection fetches a collection of a database.
func (c *Client) GetCollection(ctx context.Context, databaseID, collectionID string) (Collection, error) {
	var out Collection
	err := c.do(ctx, http.MethodGet, path("databases", databaseID, "collections", collectionID), nil, &out)
	if err != nil {
		return Collection{}, fmt.Errorf("get collection %s: %w", collectionID, err)
	}
	return out, nil
}

// CreateCollection creates a collection inside req.DatabaseID.
func (c *Client) CreateCollection(ctx context.Context, req CreateCollectionRequest) (Collection, error) {
	var out Collection
	err := c.do(ctx, http.MethodPost, path("databases", req.DatabaseID, "collections"), req, &out)
	if err != nil {
		return Collection{}, fmt.Errorf("create collection %s: %w", req.CollectionID, err)
	}
	return out, nil
}

// CreateDatetimeAttribute adds a datetime attribute. Appwrite builds
// attributes asynchronously, so the attribute may not be usable right away.
func (c *Client) CreateDatetimeAttribute(ctx context.Context, databaseID, collectionID, key string, required bool) error {
	body := map[string]any{
		"key":      key,
		"required": required,
	}

	p := path("databases", databaseID, "collections", collectionID, "attributes", "datetime")
	if err := c.do(ctx, http.MethodPost, p, body, nil); err != nil {
		return fmt.Errorf("create datetime attribute %s: %w", key, err)
	}
	return nil
}

// CreateStringAttribute adds a string attribute of the given size.
func (c *Client) CreateStringAttribute(ctx context.Context, databaseID, collectionID, key string, size int, required bool) error {
	body := map[string]any{
		"key":      key,
		"size":     size,
		"required": required,
	}

	p := path("databases", databaseID, "collections", collectionID, "attributes", "string")
	if err := c.do(ctx, http.MethodPost, p, body, nil); err != nil {
		return fmt.Errorf("create string attribute %s: %w", key, err)
	}
	return nil
}

// UpdateDocument patches the data of an existing document.
func (c *Client) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data any) (Document, error) {
	body := map[string]any{
		"data": data,
	}

	var out Document
	p := path("databases", databaseID, "collections", collectionID, "documents", documentID)
	if err := c.do(ctx, http.MethodPatch, p, body, &out); err != nil {
		return Document{}, fmt.Errorf("update document %s: %w", documentID, err)
	}
	return out, nil
}

// CreateDocument creates a document with an explicit id.
func (c *Client) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data any, permissions []string) (Document, error) {
	body := map[string]any{
		"documentId": documentID,
		"data":       data,
	}
	if len(permissions) > 0 {
		body["permissions"] = permissions
	}

	var out Document
	p := path("databases", databaseID, "collections", collectionID, "documents")
	if err := c.do(ctx, http.MethodPost, p, body, &out); err != nil {
		return Document{}, fmt.Errorf("create document %s: %w", documentID, err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, p string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+p, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Appwrite-Project", c.projectID)
	req.Header.Set("X-Appwrite-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func path(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
