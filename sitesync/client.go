package sitesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Fetcher performs one provider call with bounded retries. A provider
// fetch is all-or-nothing: partial results are never returned.
type Fetcher struct {
	http    *http.Client
	retries int
	logger  *logrus.Logger

	// sleep is swappable in tests so backoff timing can be observed
	// without waiting it out.
	sleep func(time.Duration)
}

func NewFetcher(logger *logrus.Logger) *Fetcher {
	timeout := boundedIntFromEnv("HTTP_TIMEOUT", 5, 1, 10)
	retries := boundedIntFromEnv("HTTP_RETRIES", 3, 1, 10)
	return &Fetcher{
		http:    &http.Client{Timeout: time.Duration(timeout) * time.Second},
		retries: retries,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// retryBackoff is 2^attempt seconds, attempt starting at 0.
func retryBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

// Fetch calls one provider endpoint and decodes its JSON array body.
// 4xx responses and non-array bodies fail immediately; 5xx, timeouts and
// connection failures are retried with exponential backoff until the
// attempt budget runs out.
func (f *Fetcher) Fetch(ctx context.Context, provider string, url string) ([]json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt < f.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f.logger.WithFields(logrus.Fields{
			"field":    "RetryingFetcher",
			"provider": provider,
			"url":      url,
			"attempt":  attempt + 1,
			"retries":  f.retries,
		}).Info("fetching provider data")

		items, retryable, err := f.fetchOnce(ctx, provider, url)
		if err == nil {
			return items, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		f.logger.WithFields(logrus.Fields{
			"field":    "RetryingFetcher",
			"provider": provider,
			"attempt":  attempt + 1,
		}).Warn(err.Error())

		if attempt < f.retries-1 {
			f.sleep(retryBackoff(attempt))
		}
	}

	return nil, fmt.Errorf("failed to fetch data from %s after %d attempts: %w", provider, f.retries, lastErr)
}

// fetchOnce performs a single attempt. The bool reports whether the
// failure is worth retrying.
func (f *Fetcher) fetchOnce(ctx context.Context, provider string, url string) ([]json.RawMessage, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		// Timeout or connection failure.
		return nil, true, fmt.Errorf("request to %s failed: %w", provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("reading response from %s failed: %w", provider, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// A JSON null (or any other non-array literal) decodes into a nil
		// slice without an error, so the shape check has to come first.
		// Contract breaches are not retried.
		trimmed := bytes.TrimSpace(body)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			return nil, false, fmt.Errorf("expected JSON array response from %s", provider)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, false, fmt.Errorf("expected JSON array response from %s: %w", provider, err)
		}
		return items, false, nil
	}

	apiErr := fmt.Errorf("HTTP %d from %s's url %s: %s", resp.StatusCode, provider, url, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, false, apiErr
	}
	return nil, true, apiErr
}

func boundedIntFromEnv(key string, def, lo, hi int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
