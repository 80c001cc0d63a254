package sitesync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"bitbucket.org/mmdatafocus/sitedata_backend/models"
	"github.com/sirupsen/logrus"
)

// ErrNoProviders is returned when a dispatch has nothing to fan out to.
var ErrNoProviders = errors.New("no providers to dispatch")

// providerFetcher is what FanOut needs from the retrying HTTP client.
type providerFetcher interface {
	Fetch(ctx context.Context, provider string, url string) ([]json.RawMessage, error)
}

// ProviderOutcome is one provider's independent result. Providers never
// observe each other; interpretation is left to the caller.
type ProviderOutcome struct {
	Provider string
	Success  bool
	Records  []models.SiteRecord
	Stats    models.ProviderStats
	Err      error
}

// FanOut dispatches one concurrent fetch per provider and barriers until
// every dispatched fetch has reported.
type FanOut struct {
	fetcher   providerFetcher
	transform TransformFunc
	logger    *logrus.Logger
}

func NewFanOut(fetcher providerFetcher, transform TransformFunc, logger *logrus.Logger) *FanOut {
	if transform == nil {
		transform = UnifiedTransform
	}
	return &FanOut{fetcher: fetcher, transform: transform, logger: logger}
}

// Run fans out one fetch per provider and collects all outcomes, keyed by
// provider name so the result is independent of completion order. It fails
// fast only on an empty provider map; individual provider failures are
// reported in their outcome, never escalated.
func (f *FanOut) Run(ctx context.Context, jobId string, siteId string, providerUrls map[string]string) (map[string]ProviderOutcome, error) {
	if len(providerUrls) == 0 {
		return nil, ErrNoProviders
	}

	outcomes := make(chan ProviderOutcome, len(providerUrls))
	var wg sync.WaitGroup

	for name, url := range providerUrls {
		wg.Add(1)
		go func(provider, url string) {
			defer wg.Done()
			outcomes <- f.fetchProvider(ctx, jobId, siteId, provider, url)
		}(name, url)
	}

	wg.Wait()
	close(outcomes)

	result := make(map[string]ProviderOutcome, len(providerUrls))
	for outcome := range outcomes {
		result[outcome.Provider] = outcome
	}
	return result, nil
}

func (f *FanOut) fetchProvider(ctx context.Context, jobId, siteId, provider, url string) ProviderOutcome {
	raw, err := f.fetcher.Fetch(ctx, provider, url)
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"field":    "FetchCoordinator",
			"job_id":   jobId,
			"provider": provider,
		}).Error("provider fetch failed: " + err.Error())
		return ProviderOutcome{
			Provider: provider,
			Success:  false,
			Stats:    models.ProviderStats{Errors: 1},
			Err:      err,
		}
	}

	records := f.transform(provider, siteId, raw)
	for i := range records {
		records[i].JobId = jobId
	}

	f.logger.WithFields(logrus.Fields{
		"field":       "FetchCoordinator",
		"job_id":      jobId,
		"provider":    provider,
		"fetched":     len(raw),
		"transformed": len(records),
	}).Info("provider fetch completed")

	return ProviderOutcome{
		Provider: provider,
		Success:  true,
		Records:  records,
		Stats: models.ProviderStats{
			Fetched:     len(raw),
			Transformed: len(records),
			Errors:      len(raw) - len(records),
		},
	}
}
