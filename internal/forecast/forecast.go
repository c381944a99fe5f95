// Package forecast turns raw hourly precipitation forecasts into a single
// scalar projection for an event's time window.
//
// The projector never raises forecast problems into calling code: missing
// coordinates, unparseable dates, upstream errors, and malformed responses
// all degrade to a nil projection with a human-readable reason. Callers must
// treat absence as a first-class, expected outcome.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/raincheck/rainline/internal/model"
)

// DefaultBaseURL is the Open-Meteo forecast endpoint. No API key required.
const DefaultBaseURL = "https://api.open-meteo.com"

// Window bounds: samples are fetched for ±6 hours around the event start,
// and the projection sums the sub-window [-1h, +2h] considered most relevant.
const (
	FetchWindow    = 6 * time.Hour
	RelevantBefore = -1 * time.Hour
	RelevantAfter  = 2 * time.Hour
)

// MillimetersPerInch converts upstream millimeter samples to inches.
const MillimetersPerInch = 25.4

var (
	// ErrMalformedResponse is returned when the upstream payload is missing
	// hourly data or the time and precipitation arrays disagree in length.
	ErrMalformedResponse = errors.New("forecast: malformed upstream response")

	// ErrUpstreamStatus is returned for non-2xx upstream responses.
	ErrUpstreamStatus = errors.New("forecast: upstream error status")
)

// Sample is one hourly precipitation reading.
type Sample struct {
	Time        time.Time
	Millimeters float64
}

// Client fetches hourly precipitation from an Open-Meteo-compatible API.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a forecast client. An empty baseURL selects the public
// Open-Meteo endpoint.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

type hourlyResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Precipitation []float64 `json:"precipitation"`
	} `json:"hourly"`
}

// HourlyPrecipitation fetches hourly samples (UTC) covering the date span of
// [start, end]. Open-Meteo is date-granular, so the response may include
// hours outside the requested instant range; Project handles the narrowing.
func (c *Client) HourlyPrecipitation(ctx context.Context, lat, lon float64, start, end time.Time) ([]Sample, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("hourly", "precipitation")
	q.Set("timezone", "UTC")
	q.Set("start_date", start.UTC().Format("2006-01-02"))
	q.Set("end_date", end.UTC().Format("2006-01-02"))

	reqURL := c.baseURL + "/v1/forecast?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, res.StatusCode)
	}

	var body hourlyResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	times := body.Hourly.Time
	precip := body.Hourly.Precipitation
	if len(times) == 0 || len(precip) != len(times) {
		return nil, fmt.Errorf("%w: %d times, %d samples", ErrMalformedResponse, len(times), len(precip))
	}

	samples := make([]Sample, 0, len(times))
	for i, ts := range times {
		// Open-Meteo hourly timestamps are minute-resolution, no zone suffix.
		parsed, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp %q", ErrMalformedResponse, ts)
		}
		samples = append(samples, Sample{Time: parsed.UTC(), Millimeters: precip[i]})
	}
	return samples, nil
}

// Project sums the samples whose offset from the event start falls in
// [-1h, +2h]. If no sample lands in that narrow window, it falls back to
// summing everything returned for the wider fetch window.
func Project(samples []Sample, eventStart time.Time) model.Projection {
	var sumMm float64
	var count int

	for _, s := range samples {
		offset := s.Time.Sub(eventStart)
		if offset >= RelevantBefore && offset <= RelevantAfter {
			sumMm += s.Millimeters
			count++
		}
	}

	if count == 0 {
		for _, s := range samples {
			sumMm += s.Millimeters
		}
		count = len(samples)
	}

	return model.Projection{
		ProjectedInches: sumMm / MillimetersPerInch,
		RawMillimeters:  sumMm,
		SampleCount:     count,
		WindowStart:     eventStart.Add(-FetchWindow),
		WindowEnd:       eventStart.Add(FetchWindow),
	}
}

// Projector derives a precipitation projection for a selected event.
type Projector struct {
	client *Client
}

// NewProjector creates a projector backed by the given client.
func NewProjector(client *Client) *Projector {
	return &Projector{client: client}
}

// ProjectForEvent returns the projection for the event window, or nil with a
// reason when no forecast is available. The reason is display text, not an
// error: forecast absence is expected (far-out dates, missing coordinates).
func (p *Projector) ProjectForEvent(ctx context.Context, ev *model.EventContext) (*model.Projection, string) {
	if ev == nil {
		return nil, "no event selected"
	}
	if !ev.HasCoords {
		return nil, "no venue coordinates available for forecast"
	}
	if ev.StartsAt.IsZero() {
		return nil, "event start time unknown"
	}

	start := ev.StartsAt.Add(-FetchWindow)
	end := ev.StartsAt.Add(FetchWindow)

	samples, err := p.client.HourlyPrecipitation(ctx, ev.Latitude, ev.Longitude, start, end)
	if err != nil {
		return nil, "forecast unavailable for this date/location"
	}

	proj := Project(samples, ev.StartsAt)
	return &proj, ""
}
