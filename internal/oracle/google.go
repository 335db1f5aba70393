package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGoogleBaseURL = "https://maps.googleapis.com"

// GoogleTransport queries the Distance Matrix API for a single
// origin/destination pair.
type GoogleTransport struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	mode     string
	language string
}

// GoogleOptions configures GoogleTransport. Zero values fall back to the
// public endpoint, driving mode and English labels.
type GoogleOptions struct {
	BaseURL  string
	APIKey   string
	Mode     string
	Language string
	Timeout  time.Duration
}

func NewGoogleTransport(opts GoogleOptions) *GoogleTransport {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultGoogleBaseURL
	}
	if opts.Mode == "" {
		opts.Mode = "driving"
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &GoogleTransport{
		client:   &http.Client{Timeout: opts.Timeout},
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		apiKey:   opts.APIKey,
		mode:     opts.Mode,
		language: opts.Language,
	}
}

type distanceMatrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Rows         []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Text  string `json:"text"`
				Value int    `json:"value"`
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

func (g *GoogleTransport) Lookup(ctx context.Context, origin, destination string) (TravelTime, error) {
	q := url.Values{}
	q.Set("origins", origin)
	q.Set("destinations", destination)
	q.Set("mode", g.mode)
	q.Set("language", g.language)
	q.Set("key", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/maps/api/distancematrix/json?"+q.Encode(), nil)
	if err != nil {
		return TravelTime{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return TravelTime{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TravelTime{}, fmt.Errorf("%w: http %s", ErrUnavailable, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return TravelTime{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var dm distanceMatrixResponse
	if err := json.Unmarshal(body, &dm); err != nil {
		return TravelTime{}, fmt.Errorf("%w: decode: %w", ErrUnavailable, err)
	}

	switch dm.Status {
	case "OK":
	case "INVALID_REQUEST", "MAX_ELEMENTS_EXCEEDED", "MAX_DIMENSIONS_EXCEEDED":
		return TravelTime{}, fmt.Errorf("%w: status %s", ErrNoRoute, dm.Status)
	default:
		// OVER_QUERY_LIMIT, REQUEST_DENIED, UNKNOWN_ERROR, ...
		return TravelTime{}, fmt.Errorf("%w: status %s %s", ErrUnavailable, dm.Status, dm.ErrorMessage)
	}

	if len(dm.Rows) == 0 || len(dm.Rows[0].Elements) == 0 {
		return TravelTime{}, fmt.Errorf("%w: empty matrix", ErrNoRoute)
	}
	el := dm.Rows[0].Elements[0]
	if el.Status != "OK" {
		// NOT_FOUND (geocode failed) or ZERO_RESULTS.
		return TravelTime{}, fmt.Errorf("%w: element %s", ErrNoRoute, el.Status)
	}

	return TravelTime{
		DurationText:         el.Duration.Text,
		DurationValueSeconds: el.Duration.Value,
	}, nil
}
