// Package nominatim geocodes normalized addresses with a Nominatim-compatible
// search endpoint behind a shared rate gate.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/incident-heat-etl/internal/domain"
	"github.com/couchcryptid/incident-heat-etl/internal/observability"
)

// ProviderName is recorded as the geocode method of incidents it resolves.
const ProviderName = "nominatim"

// Options configures a Client.
type Options struct {
	BaseURL      string
	UserAgent    string
	Email        string
	CountryCodes string
	Timeout      time.Duration
}

// Client implements domain.Geocoder against the Nominatim search API.
type Client struct {
	baseURL      string
	userAgent    string
	email        string
	countryCodes string
	httpClient   *http.Client
	gate         *RateGate
	metrics      *observability.Metrics
	logger       *slog.Logger
}

// NewClient creates a Nominatim client. Every Client built from the same
// gate shares its request rate.
func NewClient(opts Options, gate *RateGate, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      opts.BaseURL,
		userAgent:    opts.UserAgent,
		email:        opts.Email,
		countryCodes: opts.CountryCodes,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		gate:    gate,
		metrics: metrics,
		logger:  logger,
	}
}

// Geocode resolves query to the best matching place. Every failure mode
// reports not found; only the log line says why.
func (c *Client) Geocode(ctx context.Context, query string) (domain.GeocodeResult, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		c.metrics.GeocodeRequests.WithLabelValues("skipped").Inc()
		return domain.GeocodeResult{}, false
	}

	waited, err := c.gate.Wait(ctx)
	c.metrics.RateGateWait.Observe(waited.Seconds())
	if err != nil {
		c.logger.Debug("rate gate wait aborted", "query", query, "error", err)
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.GeocodeResult{}, false
	}

	start := time.Now()
	places, err := c.search(ctx, query)
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Warn("geocode request failed", "query", query, "error", err)
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.GeocodeResult{}, false
	}
	if len(places) == 0 {
		c.logger.Debug("geocode returned no results", "query", query)
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return domain.GeocodeResult{}, false
	}

	p := places[0]
	coord, err := p.coord()
	if err != nil {
		c.logger.Warn("geocode result unparseable", "query", query, "error", err)
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.GeocodeResult{}, false
	}

	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	return domain.GeocodeResult{
		Coord:     coord,
		Precision: classifyPrecision(p),
		Source:    ProviderName,
		PlaceType: p.Type,
	}, true
}

func (c *Client) search(ctx context.Context, query string) ([]place, error) {
	params := url.Values{
		"q":      {query},
		"format": {"jsonv2"},
		"limit":  {"1"},
	}
	if c.countryCodes != "" {
		params.Set("countrycodes", c.countryCodes)
	}
	if c.email != "" {
		params.Set("email", c.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return places, nil
}

var (
	rooftopTypes = map[string]bool{"building": true, "house": true, "yes": true}
	streetTypes  = map[string]bool{
		"residential": true, "tertiary": true, "primary": true, "secondary": true,
		"street": true, "road": true, "service": true, "pedestrian": true, "living_street": true,
	}
)

// classifyPrecision grades a place by its OSM type, class and address type.
func classifyPrecision(p place) domain.Precision {
	typ := strings.ToLower(p.Type)
	class := strings.ToLower(p.Category)
	if class == "" {
		class = strings.ToLower(p.Class)
	}
	addrType := strings.ToLower(p.AddressType)

	switch {
	case rooftopTypes[typ] || class == "building" || addrType == "building" || addrType == "house":
		return domain.PrecisionRooftop
	case typ == "interpolation" || (class == "place" && typ == "house_number"):
		return domain.PrecisionInterpolated
	case streetTypes[typ] || class == "highway" || addrType == "road":
		return domain.PrecisionStreet
	default:
		return domain.PrecisionApprox
	}
}

// Nominatim API response types.

type place struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	Type        string `json:"type"`
	Class       string `json:"class"`    // format=json
	Category    string `json:"category"` // format=jsonv2
	AddressType string `json:"addresstype"`
	DisplayName string `json:"display_name"`
}

func (p place) coord() (domain.Coord, error) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return domain.Coord{}, fmt.Errorf("parse lat %q: %w", p.Lat, err)
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return domain.Coord{}, fmt.Errorf("parse lon %q: %w", p.Lon, err)
	}
	c := domain.Coord{Lat: lat, Lon: lon}
	if !c.Valid() {
		return domain.Coord{}, fmt.Errorf("coordinates out of range: %v", c)
	}
	return c, nil
}
