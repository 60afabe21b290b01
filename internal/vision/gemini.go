// Package vision extracts listing details from car photos with a multimodal model.
package vision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vehiql/internal/cache"
	"vehiql/internal/metrics"
	"vehiql/internal/model"
	"vehiql/internal/storage"
)

var (
	ErrNotConfigured = errors.New("vision api key is not configured")
	ErrBadResponse   = errors.New("failed to parse ai response")
)

const prompt = `Analyze this car image and extract the following information:
1. Make (manufacturer)
2. Model
3. Year (approximately)
4. Color
5. Body type (SUV, Sedan, Hatchback, etc.)
6. Mileage
7. Fuel type (your best guess)
8. Transmission type (your best guess)
9. Price (your best guess)
10. Short description to be added to a car listing

Format your response as a clean JSON object with these fields:
{"make": "", "model": "", "year": 0, "color": "", "price": 0, "mileage": 0, "bodyType": "",
 "fuelType": "", "transmission": "", "description": "", "confidence": 0.0}

For confidence, provide a value between 0 and 1 representing how confident you are in your overall identification.
Only respond with the JSON object, nothing else.`

var requiredFields = []string{
	"make", "model", "year", "color", "bodyType", "price",
	"mileage", "fuelType", "transmission", "description", "confidence",
}

var fence = regexp.MustCompile("```(?:json)?\n?")

type Config struct {
	APIKey   string
	Model    string
	Endpoint string
	Timeout  time.Duration
}

// Client calls the Gemini generateContent REST endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	cache      *cache.Cache
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "vision").Logger(),
	}
}

// UseCache caches extraction results by image digest.
func (c *Client) UseCache(cc *cache.Cache) {
	c.cache = cc
}

// ExtractCarDetails asks the model to describe the car in img.
func (c *Client) ExtractCarDetails(ctx context.Context, img *storage.Image) (*model.CarDetails, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	sum := sha256.Sum256(img.Data)
	key := "vision:" + hex.EncodeToString(sum[:])
	var details model.CarDetails
	if c.cache.Get(ctx, key, &details) {
		metrics.IncAIExtraction("cache_hit")
		return &details, nil
	}

	text, err := c.generate(ctx, img)
	if err != nil {
		metrics.IncAIExtraction("api_error")
		return nil, err
	}

	parsed, err := ParseDetails(text)
	if err != nil {
		metrics.IncAIExtraction("parse_error")
		c.logger.Warn().Err(err).Str("raw", text).Msg("unusable ai response")
		return nil, err
	}

	metrics.IncAIExtraction("ok")
	c.cache.Set(ctx, key, parsed)
	return parsed, nil
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) generate(ctx context.Context, img *storage.Image) (string, error) {
	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: []part{
		{InlineData: &inlineData{MimeType: img.ContentType, Data: base64.StdEncoding.EncodeToString(img.Data)}},
		{Text: prompt},
	}}}})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(c.cfg.Endpoint, "/"), url.PathEscape(c.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read gemini response: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("gemini http %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 {
		if out.Error != nil {
			return "", fmt.Errorf("gemini http %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("gemini http %d", resp.StatusCode)
	}

	var sb strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty response", ErrBadResponse)
	}
	return sb.String(), nil
}

// ParseDetails decodes the model's answer, tolerating markdown code fences.
func ParseDetails(text string) (*model.CarDetails, error) {
	cleaned := strings.TrimSpace(fence.ReplaceAllString(text, ""))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrBadResponse, strings.Join(missing, ", "))
	}

	var details model.CarDetails
	if err := json.Unmarshal([]byte(cleaned), &details); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return &details, nil
}
