// Package api is the Rescale REST client: folder browsing, file management
// and the download/upload endpoints used by the transfer queue.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/rescale-files/internal/config"
	"github.com/rescale/rescale-files/internal/constants"
	"github.com/rescale/rescale-files/internal/http"
	"github.com/rescale/rescale-files/internal/logging"
	"github.com/rescale/rescale-files/internal/models"
	"github.com/rescale/rescale-files/internal/ratelimit"
	"github.com/rescale/rescale-files/internal/version"
)

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg("retry: " + msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	// Only log errors and warnings, not all info
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("retry: " + msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg("retry: " + msg)
}

// apiMetrics tracks API usage statistics
type apiMetrics struct {
	sync.Mutex
	totalCalls    int64
	callsByPath   map[string]int64
	windowStart   time.Time
	callsInWindow int64
}

// Client represents the Rescale API client
type Client struct {
	httpClient     *nethttp.Client // JSON API calls, retried
	transferClient *nethttp.Client // File bodies, never retried by the transport
	baseURL        string
	apiKey         string
	limiter        *ratelimit.RateLimiter // All v3 endpoints share the user scope
	metrics        *apiMetrics
	logger         *logging.Logger
}

// NewClient creates a new API client
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, errors.New("API base URL is empty: set platform_url in the config file, RESCALE_API_URL or --api-url")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.Named("api")

	httpClient, err := http.ConfigureHTTPClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	transferClient, err := http.NewTransferClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure transfer client: %w", err)
	}

	limiter := ratelimit.NewUserScopeRateLimiter()
	limiter.SetLogger(logger)

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = constants.APIRetryMax
	retryClient.RetryWaitMin = constants.APIRetryWaitMin
	retryClient.RetryWaitMax = constants.APIRetryWaitMax
	retryClient.Logger = &retryLogger{logger: logger}
	retryClient.CheckRetry = func(ctx context.Context, resp *nethttp.Response, err error) (bool, error) {
		// Server-side throttling means the local bucket is too optimistic
		if resp != nil && resp.StatusCode == nethttp.StatusTooManyRequests {
			d := limiter.Throttled(resp.Header.Get("Retry-After"))
			logger.Warn().
				Str("path", resp.Request.URL.Path).
				Dur("cooldown", d).
				Str("remaining", resp.Header.Get("X-RateLimit-Remaining")).
				Msg("throttled by platform")
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &Client{
		httpClient:     retryClient.StandardClient(),
		transferClient: transferClient,
		baseURL:        strings.TrimSuffix(cfg.APIBaseURL, "/"),
		apiKey:         cfg.APIKey,
		limiter:        limiter,
		metrics: &apiMetrics{
			callsByPath: make(map[string]int64),
			windowStart: time.Now(),
		},
		logger: logger,
	}, nil
}

// BaseURL returns the platform URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) authorize(req *nethttp.Request) {
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("User-Agent", "rescale-files/"+version.Version)
}

// recordCall tracks API usage and logs a rate summary every 30 seconds.
func (c *Client) recordCall(path string) {
	c.metrics.Lock()
	defer c.metrics.Unlock()

	c.metrics.totalCalls++
	c.metrics.callsByPath[path]++
	c.metrics.callsInWindow++

	if elapsed := time.Since(c.metrics.windowStart); elapsed >= 30*time.Second {
		reqPerSec := float64(c.metrics.callsInWindow) / elapsed.Seconds()
		c.logger.Debug().
			Float64("req_per_sec", reqPerSec).
			Float64("pct_of_target", reqPerSec/ratelimit.UserScopeRatePerSec*100).
			Int64("total_calls", c.metrics.totalCalls).
			Msg("API usage")
		c.metrics.callsInWindow = 0
		c.metrics.windowStart = time.Now()
	}
}

// doRequest performs an HTTP request with authentication and rate limiting
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*nethttp.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter cancelled: %w", err)
	}
	c.recordCall(path)

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}

	return resp, nil
}

// getJSON issues a GET and decodes a 200 response into out.
func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	resp, err := c.doRequest(ctx, nethttp.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return newStatusError(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

// sendExpect issues a request and checks the status against ok, discarding the body.
func (c *Client) sendExpect(ctx context.Context, op, method, path string, body interface{}, ok ...int) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for _, code := range ok {
		if resp.StatusCode == code {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
	}
	return newStatusError(op, resp)
}

// GetUserProfile gets the current user's profile
func (c *Client) GetUserProfile(ctx context.Context) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := c.getJSON(ctx, "get user profile", "/api/v3/users/me/", &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetRootFolders gets the user's root folders
func (c *Client) GetRootFolders(ctx context.Context) (*models.RootFolders, error) {
	var folders models.RootFolders
	if err := c.getJSON(ctx, "get root folders", "/api/v3/users/me/folders/", &folders); err != nil {
		return nil, err
	}
	return &folders, nil
}

// GetFileInfo retrieves file information by ID (v3 API)
func (c *Client) GetFileInfo(ctx context.Context, fileID string) (*models.CloudFile, error) {
	var file models.CloudFile
	path := fmt.Sprintf("/api/v3/files/%s/", url.PathEscape(fileID))
	if err := c.getJSON(ctx, "get file info", path, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// ResolveDownload returns a short-lived URL for the file's bytes and its size.
//
// The size comes from the file record's decryptedSize. The URL comes from the
// download-url endpoint; platforms that don't offer it serve bytes directly
// from /api/v3/files/{id}/contents/.
func (c *Client) ResolveDownload(ctx context.Context, fileID string) (string, int64, error) {
	info, err := c.GetFileInfo(ctx, fileID)
	if err != nil {
		return "", 0, err
	}

	var dl models.DownloadURL
	path := fmt.Sprintf("/api/v3/files/%s/download-url/", url.PathEscape(fileID))
	err = c.getJSON(ctx, "get download url", path, &dl)
	switch {
	case err == nil && dl.URL != "":
		return dl.URL, info.DecryptedSize, nil
	case err == nil || IsNotFound(err):
		return fmt.Sprintf("%s/api/v3/files/%s/contents/", c.baseURL, url.PathEscape(fileID)), info.DecryptedSize, nil
	default:
		return "", 0, err
	}
}

// Get starts a download of rawURL at offset. A non-zero offset sends
// "Range: bytes=offset-". The API token is only attached for platform URLs,
// never for pre-signed storage URLs. The response is returned as-is; status
// handling belongs to the caller.
func (c *Client) Get(ctx context.Context, rawURL string, offset int64) (*nethttp.Response, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	if c.isPlatformURL(req.URL) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter cancelled: %w", err)
		}
		c.recordCall(req.URL.Path)
		c.authorize(req)
	}
	return c.transferClient.Do(req)
}

func (c *Client) isPlatformURL(u *url.URL) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}

// DeleteFile deletes a file from the user's library
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	path := fmt.Sprintf("/api/v3/files/%s/", url.PathEscape(fileID))
	return c.sendExpect(ctx, "delete file", nethttp.MethodDelete, path, nil, nethttp.StatusNoContent, nethttp.StatusOK)
}

// RenameFile changes a file's name in place.
func (c *Client) RenameFile(ctx context.Context, fileID, newName string) error {
	path := fmt.Sprintf("/api/v3/files/%s/", url.PathEscape(fileID))
	body := map[string]interface{}{"name": newName}
	return c.sendExpect(ctx, "rename file", nethttp.MethodPatch, path, body, nethttp.StatusOK)
}

// CopyFile copies a file into folderID and returns the new file.
func (c *Client) CopyFile(ctx context.Context, fileID, folderID string) (*models.CloudFile, error) {
	path := fmt.Sprintf("/api/v3/files/%s/copy/", url.PathEscape(fileID))
	resp, err := c.doRequest(ctx, nethttp.MethodPost, path, map[string]interface{}{"folderId": folderID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK && resp.StatusCode != nethttp.StatusCreated {
		return nil, newStatusError("copy file", resp)
	}
	var file models.CloudFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode copy response: %w", err)
	}
	return &file, nil
}

// MoveFileToFolder moves a file to a specific folder
func (c *Client) MoveFileToFolder(ctx context.Context, fileID, folderID string) error {
	path := fmt.Sprintf("/api/v3/files/%s/", url.PathEscape(fileID))
	body := map[string]interface{}{"currentFolderId": folderID}
	return c.sendExpect(ctx, "move file", nethttp.MethodPatch, path, body, nethttp.StatusOK)
}

// FolderContents represents the contents of a folder
type FolderContents struct {
	Folders []FolderInfo
	Files   []FileInfo
}

// FolderInfo represents basic folder information
type FolderInfo struct {
	ID   string
	Name string
}

// FileInfo represents basic file information
type FileInfo struct {
	ID            string
	Name          string
	DecryptedSize int64
}

// CreateFolder creates a new folder
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	path := fmt.Sprintf("/api/v3/folders/%s/", url.PathEscape(parentID))
	resp, err := c.doRequest(ctx, nethttp.MethodPost, path, map[string]interface{}{"name": name})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusCreated && resp.StatusCode != nethttp.StatusOK {
		return "", newStatusError("create folder", resp)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return result.ID, nil
}

// RenameFolder changes a folder's name in place.
func (c *Client) RenameFolder(ctx context.Context, folderID, newName string) error {
	path := fmt.Sprintf("/api/v3/folders/%s/", url.PathEscape(folderID))
	body := map[string]interface{}{"name": newName}
	return c.sendExpect(ctx, "rename folder", nethttp.MethodPatch, path, body, nethttp.StatusOK)
}

// ListFolderContents lists the contents of a folder, following pagination.
func (c *Client) ListFolderContents(ctx context.Context, folderID string) (*FolderContents, error) {
	contents := &FolderContents{
		Folders: make([]FolderInfo, 0),
		Files:   make([]FileInfo, 0),
	}

	nextPath := fmt.Sprintf("/api/v3/folders/%s/contents/", url.PathEscape(folderID))
	for nextPath != "" {
		var page models.FolderContentsResponse
		if err := c.getJSON(ctx, "list folder", nextPath, &page); err != nil {
			return nil, err
		}

		for _, entry := range page.Results {
			switch entry.Type {
			case "folder":
				if entry.Item.ID != "" {
					contents.Folders = append(contents.Folders, FolderInfo{ID: entry.Item.ID, Name: entry.Item.Name})
				}
			case "file":
				contents.Files = append(contents.Files, FileInfo{
					ID:            entry.Item.ID,
					Name:          entry.Item.Name,
					DecryptedSize: entry.Item.DecryptedSize,
				})
			}
		}

		nextPath = ""
		if page.Next != nil && *page.Next != "" {
			// Extract path from full URL
			nextPath = strings.TrimPrefix(*page.Next, c.baseURL)
		}
	}

	return contents, nil
}

// DeleteFolder deletes a folder
func (c *Client) DeleteFolder(ctx context.Context, folderID string) error {
	path := fmt.Sprintf("/api/v3/folders/%s/", url.PathEscape(folderID))
	return c.sendExpect(ctx, "delete folder", nethttp.MethodDelete, path, nil, nethttp.StatusNoContent, nethttp.StatusOK)
}
