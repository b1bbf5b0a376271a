// Package ratings implements the ratings source crawler using gocolly.
// Scraping stays deliberately minimal: the scheduler only needs a
// collaborator that turns an entity identifier into a payload or an error.
package ratings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/alp82/goodwatch-monorepo-sub001/internal/catalog"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Crawler implements catalog.SourceCrawler for the ratings site.
type Crawler struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Crawler.
func New(cfg Config) (*Crawler, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("ratings base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.SetRequestTimeout(cfg.Timeout)
	return &Crawler{cfg: cfg, base: c}, nil
}

// Attempt fetches the rating page for one entity and extracts the score
// and vote count. Any transport or parse failure comes back as an error;
// the caller records it and the record becomes eligible again after the
// buffer window.
func (c *Crawler) Attempt(ctx context.Context, item catalog.BatchItem) (catalog.SourcePayload, error) {
	var (
		raw      []byte
		score    float64
		votes    int64
		hasScore bool
		fetchErr error
	)

	collector := c.base.Clone()
	collector.SetRequestTimeout(c.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		if c.cfg.UserAgent != "" {
			r.Headers.Set("User-Agent", c.cfg.UserAgent)
		}
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		raw = append([]byte(nil), r.Body...)
	})
	collector.OnHTML(`[itemprop="ratingValue"]`, func(e *colly.HTMLElement) {
		value, err := strconv.ParseFloat(strings.TrimSpace(e.Text), 64)
		if err == nil {
			score = value
			hasScore = true
		}
	})
	collector.OnHTML(`[itemprop="ratingCount"]`, func(e *colly.HTMLElement) {
		value, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(e.Text), ",", ""), 10, 64)
		if err == nil {
			votes = value
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	url, err := c.entityURL(item)
	if err != nil {
		return catalog.SourcePayload{}, err
	}
	if err := collector.Visit(url); err != nil {
		return catalog.SourcePayload{}, fmt.Errorf("visit %s: %w", url, err)
	}
	if ctx.Err() != nil {
		return catalog.SourcePayload{}, ctx.Err()
	}
	if fetchErr != nil {
		return catalog.SourcePayload{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if !hasScore {
		return catalog.SourcePayload{}, fmt.Errorf("no rating found at %s", url)
	}

	return catalog.SourcePayload{
		Fields: map[string]any{
			"score": score,
			"votes": votes,
		},
		Raw:         raw,
		ContentType: "text/html; charset=utf-8",
	}, nil
}

func (c *Crawler) entityURL(item catalog.BatchItem) (string, error) {
	var segment string
	switch item.MediaType {
	case catalog.MediaTypeMovie:
		segment = "movie"
	case catalog.MediaTypeShow:
		segment = "show"
	default:
		return "", fmt.Errorf("media type %q: %w", item.MediaType, catalog.ErrUnknownMediaType)
	}
	return fmt.Sprintf("%s/%s/%d", strings.TrimRight(c.cfg.BaseURL, "/"), segment, item.ExternalID), nil
}
