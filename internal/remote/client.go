package remote

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

	"codetrail/internal/common"
	"codetrail/internal/models"
)

// ConflictError reports a version conflict detected by the service on upsert.
type ConflictError struct {
	ServerVersion int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("record service conflict (server version %d)", e.ServerVersion)
}

// Is makes errors.Is(err, common.ErrVersionConflict) match, so callers that
// only care about the condition need not unpack the server version.
func (e *ConflictError) Is(target error) bool {
	return target == common.ErrVersionConflict
}

// Client is the record-service operation set consumed by the sync engines.
//
// Implementations must map transport failures to errors and service-level
// conditions to the sentinels in internal/common (ErrNotAuthenticated,
// ErrQuotaExceeded, ErrNotFound) or to *ConflictError.
type Client interface {
	// Ping checks service reachability.
	Ping(ctx context.Context) error

	// RefreshToken exchanges a refresh token for a fresh token pair.
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)

	// GetUsage returns the caller's quota projection.
	GetUsage(ctx context.Context) (*models.Usage, error)

	// UpsertCommits upserts commit rows by primary key and returns them with
	// server-assigned id, version and updated_at.
	UpsertCommits(ctx context.Context, rows []CommitRow) ([]CommitRow, error)

	// UpsertSessions upserts session rows by primary key.
	UpsertSessions(ctx context.Context, rows []SessionRow) ([]SessionRow, error)

	// UpsertTurns upserts turn rows by primary key.
	UpsertTurns(ctx context.Context, rows []TurnRow) ([]TurnRow, error)

	// GetCommitVersion returns the live version counter of a remote commit.
	GetCommitVersion(ctx context.Context, id string) (*VersionInfo, error)

	// GetCommit returns the full remote aggregate.
	GetCommit(ctx context.Context, id string) (*CommitDetail, error)

	// ListCommitsSince returns the caller's non-deleted commits with
	// updated_at strictly after the given time, ascending by updated_at.
	ListCommitsSince(ctx context.Context, since time.Time) ([]CommitRow, error)

	// ListDeletedSince returns soft-deletion markers newer than the given time.
	ListDeletedSince(ctx context.Context, since time.Time) ([]Deletion, error)

	// DeleteAll removes every record owned by the caller, cascading
	// commits -> sessions -> turns.
	DeleteAll(ctx context.Context) error

	// WithToken returns a copy of the client bound to the given access token.
	WithToken(token string) Client
}

// HTTPClient talks JSON over HTTPS to the record service.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New constructs an HTTPClient for the given base URL. When httpClient is
// nil, a client with a 30s timeout is used.
func New(httpClient *http.Client, baseURL string) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
	}
}

func (c *HTTPClient) WithToken(token string) Client {
	clone := *c
	clone.token = strings.TrimSpace(token)
	return &clone
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/health", nil, nil)
}

func (c *HTTPClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var out TokenResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetUsage(ctx context.Context) (*models.Usage, error) {
	var row UsageRow
	if err := c.do(ctx, http.MethodGet, "/v1/usage", nil, &row); err != nil {
		return nil, err
	}
	return &models.Usage{
		CommitCount: row.CommitCount,
		CommitLimit: row.CommitLimit,
		Tier:        row.Tier,
	}, nil
}

func (c *HTTPClient) UpsertCommits(ctx context.Context, rows []CommitRow) ([]CommitRow, error) {
	req := struct {
		Commits []CommitRow `json:"commits"`
	}{Commits: rows}
	var resp struct {
		Commits []CommitRow `json:"commits"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/commits", req, &resp); err != nil {
		return nil, err
	}
	return resp.Commits, nil
}

func (c *HTTPClient) UpsertSessions(ctx context.Context, rows []SessionRow) ([]SessionRow, error) {
	req := struct {
		Sessions []SessionRow `json:"sessions"`
	}{Sessions: rows}
	var resp struct {
		Sessions []SessionRow `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

func (c *HTTPClient) UpsertTurns(ctx context.Context, rows []TurnRow) ([]TurnRow, error) {
	req := struct {
		Turns []TurnRow `json:"turns"`
	}{Turns: rows}
	var resp struct {
		Turns []TurnRow `json:"turns"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/turns", req, &resp); err != nil {
		return nil, err
	}
	return resp.Turns, nil
}

func (c *HTTPClient) GetCommitVersion(ctx context.Context, id string) (*VersionInfo, error) {
	var out VersionInfo
	if err := c.do(ctx, http.MethodGet, "/v1/commits/"+url.PathEscape(id)+"/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetCommit(ctx context.Context, id string) (*CommitDetail, error) {
	var out CommitDetail
	if err := c.do(ctx, http.MethodGet, "/v1/commits/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) ListCommitsSince(ctx context.Context, since time.Time) ([]CommitRow, error) {
	q := "?updated_after=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	var resp struct {
		Commits []CommitRow `json:"commits"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/commits"+q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Commits, nil
}

func (c *HTTPClient) ListDeletedSince(ctx context.Context, since time.Time) ([]Deletion, error) {
	q := "?deleted_after=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	var resp struct {
		Deletions []Deletion `json:"deletions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/commits/deleted"+q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Deletions, nil
}

func (c *HTTPClient) DeleteAll(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/commits", nil, nil)
}

type errorBody struct {
	Error         string `json:"error"`
	ServerVersion int64  `json:"server_version"`
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(common.AuthorizationHeaderName, "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return common.ErrNotAuthenticated
	case http.StatusPaymentRequired:
		return common.ErrQuotaExceeded
	case http.StatusNotFound:
		return common.ErrNotFound
	case http.StatusConflict:
		return &ConflictError{ServerVersion: eb.ServerVersion}
	default:
		if strings.TrimSpace(eb.Error) != "" {
			return fmt.Errorf("record service %d: %s", resp.StatusCode, eb.Error)
		}
		return fmt.Errorf("record service status %d", resp.StatusCode)
	}
}
