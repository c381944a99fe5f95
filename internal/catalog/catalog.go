// Package catalog queries the ticket catalog (Ticketmaster Discovery API
// shape) and maps upstream event payloads into domain types.
//
// The engine only consumes the mapped shape; listing UI, pagination
// rendering, and image display belong to the caller.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raincheck/rainline/internal/model"
)

// DefaultBaseURL is the Ticketmaster Discovery v2 endpoint.
const DefaultBaseURL = "https://app.ticketmaster.com/discovery/v2"

// pageSize matches the upstream page size used by the demo frontend.
const pageSize = 30

var (
	// ErrUpstreamStatus is returned for non-2xx catalog responses.
	ErrUpstreamStatus = errors.New("catalog: upstream error status")

	// ErrNotFound is returned when an event id has no detail record.
	ErrNotFound = errors.New("catalog: event not found")
)

// Query holds ticket catalog search parameters.
type Query struct {
	Keyword   string
	City      string
	StartDate time.Time // zero = unbounded
	EndDate   time.Time // zero = unbounded; truncated dates extend to end of day
	Page      int
}

// Page is the pagination metadata returned alongside search results.
type Page struct {
	Number     int `json:"number"`
	TotalPages int `json:"total_pages"`
}

// Client queries the ticket catalog.
type Client struct {
	baseURL string
	apiKey  string
	seeder  KeywordSeeder
	httpc   *http.Client
}

// NewClient creates a catalog client. An empty baseURL selects the public
// Discovery endpoint; a nil seeder falls back to a fixed broad keyword.
func NewClient(baseURL, apiKey string, seeder KeywordSeeder) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if seeder == nil {
		seeder = StaticSeeder("music")
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		seeder:  seeder,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Search returns event summaries matching the query. An empty keyword is
// seeded from the keyword seeder so a blank search still shows results.
func (c *Client) Search(ctx context.Context, q Query) ([]model.EventContext, Page, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("size", strconv.Itoa(pageSize))
	params.Set("sort", "date,asc")

	keyword := strings.TrimSpace(q.Keyword)
	if keyword == "" {
		keyword = c.seeder.Seed()
	}
	params.Set("keyword", keyword)

	if city := strings.TrimSpace(q.City); city != "" {
		params.Set("city", city)
	}
	if !q.StartDate.IsZero() {
		params.Set("startDateTime", q.StartDate.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if !q.EndDate.IsZero() {
		// A date-only bound should include the whole closing day.
		end := q.EndDate
		if end.Hour() == 0 && end.Minute() == 0 && end.Second() == 0 {
			end = end.Add(24*time.Hour - time.Second)
		}
		params.Set("endDateTime", end.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}

	var body searchResponse
	if err := c.getJSON(ctx, c.baseURL+"/events.json?"+params.Encode(), &body); err != nil {
		return nil, Page{}, err
	}

	events := make([]model.EventContext, 0, len(body.Embedded.Events))
	for _, ev := range body.Embedded.Events {
		events = append(events, mapEvent(ev))
	}

	return events, Page{Number: body.Page.Number, TotalPages: body.Page.TotalPages}, nil
}

// EventByID fetches the enriched detail record for one event, including
// venue coordinates and price ranges.
func (c *Client) EventByID(ctx context.Context, id string) (*model.EventContext, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	u := fmt.Sprintf("%s/events/%s.json?apikey=%s", c.baseURL, url.PathEscape(id), url.QueryEscape(c.apiKey))

	var ev eventPayload
	if err := c.getJSON(ctx, u, &ev); err != nil {
		return nil, err
	}

	mapped := mapEvent(ev)
	return &mapped, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}

	res, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return ErrNotFound
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%w: %d", ErrUpstreamStatus, res.StatusCode)
	}

	return json.NewDecoder(res.Body).Decode(out)
}

// --- Upstream payload shapes (Discovery v2) ---

type searchResponse struct {
	Embedded struct {
		Events []eventPayload `json:"events"`
	} `json:"_embedded"`
	Page struct {
		Number     int `json:"number"`
		TotalPages int `json:"totalPages"`
	} `json:"page"`
}

type eventPayload struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Images []struct {
		Ratio  string `json:"ratio"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
		URL    string `json:"url"`
	} `json:"images"`
	Classifications []struct {
		Segment struct {
			Name string `json:"name"`
		} `json:"segment"`
	} `json:"classifications"`
	Dates struct {
		Start struct {
			DateTime  string `json:"dateTime"`
			LocalDate string `json:"localDate"`
		} `json:"start"`
	} `json:"dates"`
	PriceRanges []struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	} `json:"priceRanges"`
	Embedded struct {
		Venues []struct {
			Name string `json:"name"`
			City struct {
				Name string `json:"name"`
			} `json:"city"`
			Country struct {
				CountryCode string `json:"countryCode"`
			} `json:"country"`
			Location struct {
				Latitude  string `json:"latitude"`
				Longitude string `json:"longitude"`
			} `json:"location"`
		} `json:"venues"`
		Attractions []struct {
			Name string `json:"name"`
		} `json:"attractions"`
	} `json:"_embedded"`
}

func mapEvent(ev eventPayload) model.EventContext {
	out := model.EventContext{
		ID:       ev.ID,
		Name:     ev.Name,
		Category: "concert",
		ImageURL: pickBestImage(ev),
	}
	if out.Name == "" {
		out.Name = "Untitled event"
	}

	if len(ev.Classifications) > 0 {
		out.Category = NormalizeCategory(ev.Classifications[0].Segment.Name)
	}

	out.StartsAt = parseStart(ev.Dates.Start.DateTime, ev.Dates.Start.LocalDate)

	if len(ev.Embedded.Venues) > 0 {
		v := ev.Embedded.Venues[0]
		out.Venue = v.Name
		out.City = v.City.Name
		out.Country = v.Country.CountryCode
		out.Outdoor = InferOutdoor(v.Name)

		lat, latErr := strconv.ParseFloat(v.Location.Latitude, 64)
		lon, lonErr := strconv.ParseFloat(v.Location.Longitude, 64)
		if latErr == nil && lonErr == nil {
			out.Latitude = lat
			out.Longitude = lon
			out.HasCoords = true
		}
	} else {
		out.Outdoor = true
	}

	for _, a := range ev.Embedded.Attractions {
		if a.Name != "" {
			out.Artists = append(out.Artists, a.Name)
		}
	}

	if len(ev.PriceRanges) > 0 {
		pr := ev.PriceRanges[0]
		if pr.Min != nil {
			min := decimal.NewFromFloat(*pr.Min)
			out.MinPrice = &min
		}
		if pr.Max != nil {
			max := decimal.NewFromFloat(*pr.Max)
			out.MaxPrice = &max
		}
	}

	return out
}

// parseStart prefers the full dateTime; a bare localDate gets the
// conventional 7pm start so downstream windows stay meaningful.
func parseStart(dateTime, localDate string) time.Time {
	if dateTime != "" {
		if t, err := time.Parse(time.RFC3339, dateTime); err == nil {
			return t.UTC()
		}
	}
	if localDate != "" {
		if t, err := time.Parse("2006-01-02T15:04:05", localDate+"T19:00:00"); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
