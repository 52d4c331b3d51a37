package nse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-resty/resty/v2"
	"github.com/tradesolutions39/stock-dashboard/internal/config"
	"golang.org/x/time/rate"
)

// Client downloads daily bhavcopy files from the exchange archive.
type Client struct {
	config *config.NSEConfig
	http   *resty.Client
	loc    *time.Location
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new archive client
func NewClient(cfg *config.NSEConfig) *Client {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	httpClient := resty.New().
		SetTimeout(time.Duration(cfg.Timeout) * time.Second).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "text/csv,*/*")

	return &Client{
		config: cfg,
		http:   httpClient,
		loc:    loc,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// URL returns the archive location of the bhavcopy for day.
func (c *Client) URL(day time.Time) string {
	base := strings.TrimRight(c.config.BaseURL, "/")
	return fmt.Sprintf("%s/sec_bhavdata_full_%s.csv", base, day.Format("02012006"))
}

// FetchDay downloads the bhavcopy for one trading day, retrying transient failures.
// It returns ErrNoData when the exchange has nothing for that day.
func (c *Client) FetchDay(ctx context.Context, day time.Time) (*Bhavcopy, error) {
	day = c.dayOf(day)
	url := c.URL(day)
	delay := time.Duration(c.config.RequestDelay) * time.Millisecond

	var lastErr error
	for i := 0; i <= c.config.MaxRetries; i++ {
		if i > 0 {
			if err := c.sleep(ctx, delay*time.Duration(2*i)); err != nil {
				return nil, err
			}
		}

		resp, err := c.http.R().SetContext(ctx).Get(url)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			slog.Warn("bhavcopy request failed", "date", day.Format("2006-01-02"), "attempt", i+1, "error", err)
			continue
		}

		switch status := resp.StatusCode(); {
		case status == http.StatusNotFound:
			return nil, fmt.Errorf("%s: %w", day.Format("2006-01-02"), ErrNoData)
		case status == http.StatusOK:
			body := bytes.TrimSpace(resp.Body())
			if len(body) == 0 || body[0] == '<' {
				return nil, fmt.Errorf("%s: %w", day.Format("2006-01-02"), ErrNoData)
			}
			slog.Debug("fetched bhavcopy", "date", day.Format("2006-01-02"), "size", humanize.Bytes(uint64(len(body))))
			return &Bhavcopy{Date: day, Data: resp.Body()}, nil
		case status == http.StatusTooManyRequests || status >= 500:
			lastErr = fmt.Errorf("archive returned status %d", status)
			slog.Warn("bhavcopy request throttled", "date", day.Format("2006-01-02"), "attempt", i+1, "status", status)
		default:
			return nil, fmt.Errorf("failed to download bhavcopy for %s, status code: %d", day.Format("2006-01-02"), status)
		}
	}
	return nil, fmt.Errorf("failed to download bhavcopy for %s after %d attempts: %w",
		day.Format("2006-01-02"), c.config.MaxRetries+1, lastErr)
}

// FetchLatest walks back from today until a published bhavcopy is found, trying at most
// lookback_days calendar days.
func (c *Client) FetchLatest(ctx context.Context) (*Bhavcopy, error) {
	today := c.dayOf(c.now())
	for i := 0; i < c.config.LookbackDays; i++ {
		day := today.AddDate(0, 0, -i)
		b, err := c.FetchDay(ctx, day)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrNoData) {
			return nil, err
		}
		slog.Info("no bhavcopy for day, trying previous", "date", day.Format("2006-01-02"))
	}
	return nil, fmt.Errorf("no bhavcopy in the last %d days: %w", c.config.LookbackDays, ErrNoData)
}

// FetchRange fetches every weekday in [from, to], calling fn for each published day in
// date order. Per-day failures are collected in the report; an error from fn or the
// context stops the walk.
func (c *Client) FetchRange(ctx context.Context, from, to time.Time, fn func(*Bhavcopy) error) (RangeReport, error) {
	report := RangeReport{Failed: make(map[string]error)}
	limiter := rate.NewLimiter(rate.Every(time.Duration(c.config.RequestDelay)*time.Millisecond), 1)

	for day := c.dayOf(from); !day.After(c.dayOf(to)); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return report, err
		}

		key := day.Format("2006-01-02")
		b, err := c.FetchDay(ctx, day)
		switch {
		case errors.Is(err, ErrNoData):
			report.Missing = append(report.Missing, key)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed[key] = err
			continue
		}

		if err := fn(b); err != nil {
			return report, fmt.Errorf("failed to process bhavcopy for %s: %w", key, err)
		}
		report.Fetched = append(report.Fetched, key)
	}
	return report, nil
}

// Today returns the current trading-calendar date.
func (c *Client) Today() time.Time {
	return c.dayOf(c.now())
}

// dayOf returns midnight UTC of t's calendar date in exchange time.
func (c *Client) dayOf(t time.Time) time.Time {
	y, m, d := t.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
