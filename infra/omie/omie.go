// Package omie downloads the Iberian day-ahead market prices published by
// OMIE.
package omie

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/hems/core/prices"
)

// DefaultURL is the accumulated hourly marginal price file.
const DefaultURL = "https://www.omie.es/sites/default/files/dados/NUEVA_SECCION/INT_PBC_EV_H_ACUM.TXT"

// Config selects the price file and the local time zone of the hours.
type Config struct {
	Enabled        bool   `json:"enabled"`
	URL            string `json:"url"`
	Timezone       string `json:"timezone"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

// Validate checks the URL and time zone.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if u, err := url.Parse(c.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("prices: invalid url %q", c.URL)
	}
	if _, err := c.location(); err != nil {
		return fmt.Errorf("prices: %w", err)
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("prices: timeout_seconds must not be negative")
	}
	return nil
}

func (c Config) location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Client fetches and parses the OMIE price file.
type Client struct {
	cfg    Config
	client *http.Client
	loc    *time.Location
}

// NewClient creates a client for cfg. An unknown time zone falls back to
// local time; Validate reports it.
func NewClient(cfg Config) *Client {
	cfg.SetDefaults()
	loc, err := cfg.location()
	if err != nil {
		loc = time.Local
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		loc:    loc,
	}
}

// Name identifies the provider in metrics.
func (c *Client) Name() string { return "omie" }

// Fetch downloads the price file.
func (c *Client) Fetch(ctx context.Context) ([]prices.Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return Parse(resp.Body, c.loc)
}

// Parse reads the semicolon separated price file. Rows are date
// (dd/mm/yyyy), period (1..24, Spanish time), Spanish price and Portuguese
// price in EUR/MWh with a decimal comma. Periods are shifted one hour back
// to Portuguese time. Rows that are not prices, such as headers, are
// skipped.
func Parse(r io.Reader, loc *time.Location) ([]prices.Quote, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var quotes []prices.Quote
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return nil, err
		}
		if q, ok := parseRow(rec, loc); ok {
			quotes = append(quotes, q)
		}
	}
	return quotes, nil
}

func parseRow(rec []string, loc *time.Location) (prices.Quote, bool) {
	if len(rec) < 4 {
		return prices.Quote{}, false
	}
	day, err := time.ParseInLocation("02/01/2006", strings.TrimSpace(rec[0]), loc)
	if err != nil {
		return prices.Quote{}, false
	}
	period, err := strconv.Atoi(strings.TrimSpace(rec[1]))
	if err != nil || period < 1 || period > 25 {
		return prices.Quote{}, false
	}
	price, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(rec[3]), ",", ".", 1), 64)
	if err != nil {
		return prices.Quote{}, false
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), period-1, 0, 0, 0, loc).Add(-time.Hour)
	return prices.Quote{Time: at, EURPerMWh: price}, true
}
