package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Lllllllleong/displayagent/internal/models"
)

// ErrNotFound is returned when the backend answers 404.
var ErrNotFound = errors.New("not found")

// Config tunes the backend client.
type Config struct {
	Timeout    time.Duration
	RetryCount int
	// UploadRate caps page uploads per second; UploadBurst is the bucket size.
	UploadRate  float64
	UploadBurst int
}

// DefaultConfig returns the settings used by the agent.
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		RetryCount:  2,
		UploadRate:  4,
		UploadBurst: 2,
	}
}

// Client wraps the admin backend HTTP API.
type Client struct {
	http     *resty.Client
	resolver *Resolver
	uploads  *rate.Limiter
}

func NewClient(resolver *Resolver, cfg Config) *Client {
	httpClient := resty.New().
		SetBaseURL(resolver.Base()).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")

	limit := rate.Inf
	if cfg.UploadRate > 0 {
		limit = rate.Limit(cfg.UploadRate)
	}
	burst := cfg.UploadBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		http:     httpClient,
		resolver: resolver,
		uploads:  rate.NewLimiter(limit, burst),
	}
}

// Resolver returns the resolver used to build URLs.
func (c *Client) Resolver() *Resolver {
	return c.resolver
}

func decode(resp *resty.Response, into any) error {
	if resp.StatusCode() == 404 {
		return ErrNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("backend returned %s for %s", resp.Status(), resp.Request.URL)
	}
	if into == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), into); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", resp.Request.URL, err)
	}
	return nil
}

// Documents fetches the full document list. Records that fail to decode are skipped.
func (c *Client) Documents(ctx context.Context) ([]models.Document, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/api/documents")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch documents: %w", err)
	}
	var body models.DocumentsResponse
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	docs, errs := models.DecodeDocuments(body.Documents)
	for _, e := range errs {
		slog.Warn("Skipping malformed document record.", "error", e)
	}
	return docs, nil
}

// DutyOfficers fetches the current duty assignment; nil means none is set.
func (c *Client) DutyOfficers(ctx context.Context) (*models.DutyOfficers, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/api/duty-officers")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch duty officers: %w", err)
	}
	var body models.OfficersResponse
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	if !body.Success {
		return nil, fmt.Errorf("backend reported failure fetching duty officers")
	}
	return body.Officers, nil
}

// DisplaySettings fetches the sanitized display settings.
func (c *Client) DisplaySettings(ctx context.Context) (models.DisplaySettings, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/api/display-settings")
	if err != nil {
		return models.DisplaySettings{}, fmt.Errorf("failed to fetch display settings: %w", err)
	}
	var s models.DisplaySettings
	if err := decode(resp, &s); err != nil {
		return models.DisplaySettings{}, err
	}
	return s, nil
}

// UpdateDisplaySettings applies patch and returns the stored settings.
func (c *Client) UpdateDisplaySettings(ctx context.Context, patch models.SettingsPatch) (models.DisplaySettings, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(patch).
		Put("/api/display-settings")
	if err != nil {
		return models.DisplaySettings{}, fmt.Errorf("failed to update display settings: %w", err)
	}
	var s models.DisplaySettings
	if err := decode(resp, &s); err != nil {
		return models.DisplaySettings{}, err
	}
	return s, nil
}

// CheckPages asks whether every page of documentID was already converted.
// The returned URLs are resolved.
func (c *Client) CheckPages(ctx context.Context, documentID string, totalPages int) (models.CheckPagesResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(models.CheckPagesRequest{TotalPages: totalPages, DocumentID: documentID}).
		Post("/api/check-plasa-pages")
	if err != nil {
		return models.CheckPagesResponse{}, fmt.Errorf("failed to check cached pages: %w", err)
	}
	var body models.CheckPagesResponse
	if err := decode(resp, &body); err != nil {
		return models.CheckPagesResponse{}, err
	}
	for i, u := range body.PageURLs {
		body.PageURLs[i] = c.resolver.Resolve(u)
	}
	return body, nil
}

// UploadPage stores one rendered page and returns its resolved URL.
func (c *Client) UploadPage(ctx context.Context, documentID string, pageNumber int, filename string, data []byte) (string, error) {
	if err := c.uploads.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetFormData(map[string]string{
			"pageNumber": strconv.Itoa(pageNumber),
			"documentId": documentID,
		}).
		Post("/api/upload-plasa-page")
	if err != nil {
		return "", fmt.Errorf("failed to upload page %d: %w", pageNumber, err)
	}
	return c.uploadLocation(resp)
}

// CheckImage looks up the single converted image of documentID.
func (c *Client) CheckImage(ctx context.Context, documentID string) (string, bool, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("documentId", documentID).
		Get("/api/check-escala-image/{documentId}")
	if err != nil {
		return "", false, fmt.Errorf("failed to check cached image: %w", err)
	}
	var body models.CheckImageResponse
	if err := decode(resp, &body); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	location := body.Location()
	if !body.Exists || location == "" {
		return "", false, nil
	}
	return c.resolver.Resolve(location), true, nil
}

// UploadImage stores the single converted image of documentID.
func (c *Client) UploadImage(ctx context.Context, documentID, filename string, data []byte) (string, error) {
	if err := c.uploads.Wait(ctx); err != nil {
		return "", err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetFormData(map[string]string{"documentId": documentID}).
		Post("/api/upload-escala-image")
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	return c.uploadLocation(resp)
}

func (c *Client) uploadLocation(resp *resty.Response) (string, error) {
	var body models.UploadResponse
	if err := decode(resp, &body); err != nil {
		return "", err
	}
	location := body.Location()
	if location == "" {
		return "", fmt.Errorf("upload response carried no url")
	}
	return c.resolver.Resolve(location), nil
}

// Fetch downloads raw bytes from an absolute or backend-relative URL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		Get(c.resolver.Resolve(rawURL))
	if err != nil {
		return nil, "", err
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("fetch %s: %s", rawURL, resp.Status())
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

// FetchViaProxy downloads rawURL through the backend's /api/proxy-pdf route.
func (c *Client) FetchViaProxy(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetQueryParam("url", rawURL).
		Get("/api/proxy-pdf")
	if err != nil {
		return nil, fmt.Errorf("proxy fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("proxy fetch %s: %s", rawURL, resp.Status())
	}
	return resp.Body(), nil
}

// Resolve maps a backend-relative or loopback URL onto the backend.
func (c *Client) Resolve(path string) string {
	return c.resolver.Resolve(path)
}

// StreamURL returns the absolute URL of a backend SSE route.
func (c *Client) StreamURL(path string) string {
	return c.resolver.Resolve(path)
}
