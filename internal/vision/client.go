package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Flavor string

const (
	// FlavorImageAnalysis speaks Image Analysis 4.0 (captionResult).
	FlavorImageAnalysis Flavor = "image-analysis"
	// FlavorDescribe speaks the v3.2 analyze API (description.captions).
	FlavorDescribe Flavor = "describe"
)

const (
	KeyHeader = "Ocp-Apim-Subscription-Key"

	defaultImageAnalysisVersion = "2023-10-01"
	defaultDescribeVersion      = "v3.2"
)

type ClientConfig struct {
	// Endpoint is the resource base URL, e.g. https://name.cognitiveservices.azure.com/.
	Endpoint string
	Key      string
	Flavor   Flavor

	// APIVersion is the api-version query value for image-analysis and the
	// path segment for describe. Empty selects the flavor's default.
	APIVersion    string
	GenderNeutral bool
	Language      string

	// URL replaces the derived analyze URL verbatim when set.
	URL string

	// Timeout bounds each call. Zero leaves calls bounded only by ctx.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is the adapter for the Azure AI Vision analyze endpoints.
type Client struct {
	url        string
	key        string
	flavor     Flavor
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config ClientConfig) (*Client, error) {
	if config.Key == "" {
		return nil, fmt.Errorf("vision key is required")
	}
	if config.Flavor == "" {
		config.Flavor = FlavorImageAnalysis
	}

	analyzeURL := config.URL
	if analyzeURL == "" {
		var err error
		analyzeURL, err = buildURL(config)
		if err != nil {
			return nil, err
		}
	} else if _, err := url.Parse(analyzeURL); err != nil {
		return nil, fmt.Errorf("invalid analyze URL: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		url:        analyzeURL,
		key:        config.Key,
		flavor:     config.Flavor,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func buildURL(config ClientConfig) (string, error) {
	if config.Endpoint == "" {
		return "", fmt.Errorf("vision endpoint is required")
	}
	base, err := url.Parse(strings.TrimRight(config.Endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid vision endpoint: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid vision endpoint %q: scheme and host are required", config.Endpoint)
	}

	query := url.Values{}
	switch config.Flavor {
	case FlavorImageAnalysis:
		version := config.APIVersion
		if version == "" {
			version = defaultImageAnalysisVersion
		}
		base.Path += "/computervision/imageanalysis:analyze"
		query.Set("api-version", version)
		query.Set("features", "caption")
		if config.GenderNeutral {
			query.Set("gender-neutral-caption", "true")
		}
	case FlavorDescribe:
		version := config.APIVersion
		if version == "" {
			version = defaultDescribeVersion
		}
		base.Path += "/vision/" + version + "/analyze"
		query.Set("visualFeatures", "Description")
	default:
		return "", fmt.Errorf("unknown vision flavor %q", config.Flavor)
	}
	if config.Language != "" {
		query.Set("language", config.Language)
	}
	base.RawQuery = query.Encode()
	return base.String(), nil
}

// URL returns the analyze URL the client posts to.
func (c *Client) URL() string {
	return c.url
}

// Send posts body to the analyze URL and returns the raw response. Values in
// header are added to the request; the content type and key are always set by
// the client. The caller owns resp.Body.
func (c *Client) Send(ctx context.Context, body io.Reader, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(KeyHeader, c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	return resp, nil
}

// Analyze sends image and decodes a 200 answer. Any other status yields a
// *StatusError carrying the full response body.
func (c *Client) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	startTime := time.Now()
	resp, err := c.Send(ctx, bytes.NewReader(image), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read vision response: %w", err)
	}

	c.logger.Debug("vision call complete",
		"flavor", c.flavor,
		"status", resp.StatusCode,
		"image_bytes", len(image),
		"duration", time.Since(startTime),
	)

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: body}
	}

	var analysis Analysis
	if err := json.Unmarshal(body, &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse vision response: %w", err)
	}
	return &analysis, nil
}

func (c *Client) Caption(ctx context.Context, image []byte) (*Caption, error) {
	analysis, err := c.Analyze(ctx, image)
	if err != nil {
		return nil, err
	}
	return analysis.Caption(), nil
}
