// Package power fetches daily all-sky surface irradiance from the NASA
// POWER point API.
//
// The API returns CSV preceded by a free-text preamble. The preamble ends
// where the data header (solar.PowerHeader) begins; everything before it is
// discarded.
package power

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/KI7MT/ki7mt-irradiance/internal/csvio"
	"github.com/KI7MT/ki7mt-irradiance/internal/pipeline"
	"github.com/KI7MT/ki7mt-irradiance/internal/solar"
)

// DefaultBaseURL is the daily point endpoint.
const DefaultBaseURL = "https://power.larc.nasa.gov/api/temporal/daily/point"

// DefaultTimeout bounds one HTTP request.
const DefaultTimeout = 60 * time.Second

// ErrNoHeader is returned when a response lacks the data header line.
var ErrNoHeader = errors.New("power: data header not found")

// Location is a point on the globe in decimal degrees.
type Location struct {
	Latitude  float64
	Longitude float64
}

func (l Location) String() string {
	return fmt.Sprintf("%s,%s", formatCoord(l.Latitude), formatCoord(l.Longitude))
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Cache is the subset of cache.Store the client needs.
type Cache interface {
	Get(id string) ([]byte, bool, error)
	Put(id string, value []byte) error
}

// Client downloads irradiance for a location and year.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Cache   Cache // Optional
	Logger  *zap.Logger

	received atomic.Uint64
}

// NewClient returns a client with the default endpoint and timeout.
func NewClient(log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL: DefaultBaseURL,
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		Logger:  log,
	}
}

// URL builds the request for one calendar year.
func (c *Client) URL(loc Location, year int) string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return fmt.Sprintf(
		"%s?parameters=%s&community=RE&longitude=%s&latitude=%s&start=%04d0101&end=%04d1231&format=CSV",
		base, solar.PowerIrradiance, formatCoord(loc.Longitude), formatCoord(loc.Latitude), year, year,
	)
}

// Fetch returns the raw NASA POWER rows for loc over one year. Columns keep
// their provider names (YEAR, MO, DY, ALLSKY_SFC_SW_DWN).
func (c *Client) Fetch(ctx context.Context, loc Location, year int) ([]pipeline.RawRecord, error) {
	body, err := c.FetchBody(ctx, loc, year)
	if err != nil {
		return nil, err
	}
	tbl, err := Parse(body, fmt.Sprintf("power:%s:%d", loc, year))
	if err != nil {
		return nil, err
	}
	return tbl.Records, nil
}

// FetchBody returns the response body for loc and year, consulting the
// cache first when one is configured. Only successful bodies are cached.
func (c *Client) FetchBody(ctx context.Context, loc Location, year int) ([]byte, error) {
	log := c.logger()
	url := c.URL(loc, year)

	if c.Cache != nil {
		body, ok, err := c.Cache.Get(url)
		if err != nil {
			log.Warn("cache read failed", zap.Error(err))
		} else if ok {
			log.Debug("cache hit", zap.Int("year", year), zap.Int("bytes", len(body)))
			c.received.Add(uint64(len(body)))
			return body, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "HTTP GET failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "download failed")
	}
	log.Debug("downloaded", zap.Int("year", year), zap.Int("bytes", len(body)))
	c.received.Add(uint64(len(body)))

	if c.Cache != nil {
		if _, err := StripPreamble(body); err == nil {
			if err := c.Cache.Put(url, body); err != nil {
				log.Warn("cache write failed", zap.Error(err))
			}
		}
	}
	return body, nil
}

// BytesReceived returns the total size of response bodies served so far,
// cache hits included.
func (c *Client) BytesReceived() uint64 {
	return c.received.Load()
}

// StripPreamble returns body from the data header line onward.
func StripPreamble(body []byte) ([]byte, error) {
	i := bytes.Index(body, []byte(solar.PowerHeader))
	if i < 0 {
		return nil, ErrNoHeader
	}
	return body[i:], nil
}

// Parse strips the preamble and parses the CSV payload.
func Parse(body []byte, source string) (*csvio.Table, error) {
	data, err := StripPreamble(body)
	if err != nil {
		return nil, errors.Wrap(err, source)
	}
	return csvio.ReadBytes(data, source)
}

// Schema declares how NASA POWER rows normalize: YEAR/MO/DY assembled into
// Date and ALLSKY_SFC_SW_DWN renamed to the canonical irradiance column.
func Schema() pipeline.Schema {
	return pipeline.Schema{
		Rename:      solar.PowerRename,
		Layout:      pipeline.LayoutYMD,
		YearColumn:  solar.ColYear,
		MonthColumn: solar.ColMonth,
		DayColumn:   solar.ColDay,
		Measure:     solar.ColIrradiance,
	}
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
