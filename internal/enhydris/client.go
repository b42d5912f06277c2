// Package enhydris is a minimal client for the Enhydris time-series
// API: it can exchange credentials for a token, discover where each
// series ends, and append new records.
package enhydris

import (
	"bytes"
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

	"github.com/openhydro/loggersync/internal/logging"
	"github.com/openhydro/loggersync/internal/loggerstorage"
)

// StartOfTime is the end date assumed for series that hold no data yet.
var StartOfTime = time.Date(1700, time.January, 1, 0, 0, 0, 0, time.UTC)

// Client talks to one Enhydris server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client for the server at baseURL. token may be empty
// for the unauthenticated calls of the upgrade path.
func New(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		logger:  logging.Default(logger).With("component", "enhydris"),
	}
}

// GetToken exchanges a username and password for an API token.
func (c *Client) GetToken(ctx context.Context, username, password string) (string, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/auth/login/", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body struct {
		Key string `json:"key"`
	}
	if err := c.do(req, &body); err != nil {
		return "", err
	}
	return body.Key, nil
}

// TimeseriesGroup returns the series group a legacy time series belongs
// to. Used only by the configuration upgrade path.
func (c *Client) TimeseriesGroup(ctx context.Context, stationID, timeseriesID int) (int, error) {
	u := fmt.Sprintf("%s/api/stations/%d/timeseries/%d/", c.baseURL, stationID, timeseriesID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}

	var body struct {
		TimeseriesGroup int `json:"timeseries_group"`
	}
	if err := c.do(req, &body); err != nil {
		return 0, err
	}
	return body.TimeseriesGroup, nil
}

// GetTsEndDate returns the timestamp of the last record of a series
// group, or StartOfTime when the series is empty. The server stores
// wall-clock timestamps without a zone, so the end date is interpreted
// in loc, the zone the storage's own records are expressed in; a nil
// loc means UTC.
func (c *Client) GetTsEndDate(ctx context.Context, stationID, groupID int, loc *time.Location) (time.Time, error) {
	u := fmt.Sprintf("%s/api/stations/%d/timeseriesgroups/%d/bottom/", c.baseURL, stationID, groupID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return time.Time{}, err
	}

	raw, err := c.doRaw(req)
	if err != nil {
		return time.Time{}, err
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return StartOfTime, nil
	}
	datestr, _, _ := strings.Cut(line, ",")
	datestr = strings.TrimSpace(datestr)
	if len(datestr) > 16 {
		datestr = datestr[:16]
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, datestr, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("server returned unparsable end date %q", datestr)
}

// PostTsData appends records to a series group. Timestamps are sent in
// the fixed offset they carry; null values become empty fields.
func (c *Client) PostTsData(ctx context.Context, stationID, groupID int, records []loggerstorage.Record) error {
	var buf bytes.Buffer
	for _, r := range records {
		value := ""
		if !r.Null {
			value = strconv.FormatFloat(r.Value, 'f', -1, 64)
		}
		fmt.Fprintf(&buf, "%s,%s,%s\r\n", r.Timestamp.Format("2006-01-02 15:04"), value, r.Flags)
	}

	u := fmt.Sprintf("%s/api/stations/%d/timeseriesgroups/%d/data/", c.baseURL, stationID, groupID)
	form := url.Values{"timeseries_records": {buf.String()}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = c.doRaw(req)
	return err
}

func (c *Client) do(req *http.Request, into any) error {
	raw, err := c.doRaw(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode server response: %w", err)
	}
	return nil
}

func (c *Client) doRaw(req *http.Request) ([]byte, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read server response: %w", err)
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return nil, fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, msg)
		}
		return nil, fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return body, nil
}
