// Package pipeline drives one endpoint's batch pass: resolve the field
// mapping, learn the page count from page 1, then fetch, extract, and write
// every page in order. Pages are processed strictly sequentially; a failed
// page aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/researchpipe/gtr-fetch/pkg/client"
	"github.com/researchpipe/gtr-fetch/pkg/extract"
	"github.com/researchpipe/gtr-fetch/pkg/fieldmap"
	"github.com/researchpipe/gtr-fetch/pkg/logging"
)

var (
	gtrPagesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtr_pages_written_total",
		Help: "Total output pages written by endpoint",
	}, []string{"endpoint"})

	gtrRecordsExtractedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gtr_records_extracted_total",
		Help: "Total records extracted by endpoint",
	}, []string{"endpoint"})

	gtrRunDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gtr_run_duration_seconds",
		Help:    "Duration of one endpoint run",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"endpoint"})
)

// PageFetcher is the single-page fetch contract the driver depends on.
// Retry policies wrap this contract without changing it.
type PageFetcher interface {
	FetchPage(ctx context.Context, endpoint string, page int) (*client.Page, error)
}

// PageWriter persists one output page at its deterministic destination.
type PageWriter interface {
	WritePage(ctx context.Context, endpoint string, page int, payload any) error
}

// Runner orchestrates fetch, extract, and write for endpoints.
type Runner struct {
	fetcher PageFetcher
	writer  PageWriter
	logger  zerolog.Logger
}

// NewRunner creates a pipeline runner.
func NewRunner(fetcher PageFetcher, writer PageWriter) *Runner {
	return &Runner{
		fetcher: fetcher,
		writer:  writer,
		logger:  logging.NewLogger("pipeline"),
	}
}

// RunAll processes the endpoints sequentially, in the given order. All
// mappings are resolved up front so a misconfigured endpoint fails the
// invocation before any network activity.
func (r *Runner) RunAll(ctx context.Context, endpoints []string) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("no endpoints requested")
	}

	for _, endpoint := range endpoints {
		if _, err := fieldmap.Lookup(endpoint); err != nil {
			return err
		}
	}

	for _, endpoint := range endpoints {
		if err := r.Run(ctx, endpoint); err != nil {
			return fmt.Errorf("endpoint %s: %w", endpoint, err)
		}
	}
	return nil
}

// Run executes the Init → Paging → Done pass for one endpoint.
func (r *Runner) Run(ctx context.Context, endpoint string) error {
	start := time.Now()
	defer func() {
		gtrRunDurationSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	// Init: the mapping must resolve before anything touches the network.
	mapping, err := fieldmap.Lookup(endpoint)
	if err != nil {
		return err
	}

	r.logger.Info().Str("endpoint", endpoint).Msg("Starting endpoint run")

	// The first page doubles as the page-count probe. Its count stays
	// authoritative for the whole run even if later envelopes disagree.
	first, err := r.fetcher.FetchPage(ctx, endpoint, 1)
	if err != nil {
		return err
	}
	totalPages := first.TotalPages

	r.logger.Info().
		Str("endpoint", endpoint).
		Int("total_pages", totalPages).
		Msg("Total pages resolved")

	if totalPages == 0 {
		r.logger.Warn().Str("endpoint", endpoint).Msg("Endpoint reports zero pages, nothing to write")
		return nil
	}

	var recordsWritten int
	prevPercentage := -1

	for p := 1; p <= totalPages; p++ {
		page := first
		if p > 1 {
			page, err = r.fetcher.FetchPage(ctx, endpoint, p)
			if err != nil {
				return err
			}
			if page.TotalPages != totalPages {
				r.logger.Debug().
					Str("endpoint", endpoint).
					Int("page", p).
					Int("reported", page.TotalPages).
					Int("authoritative", totalPages).
					Msg("Envelope disagrees on total pages, keeping initial count")
			}
		}

		entries := extract.Records(page.Body, mapping.RecordKey, mapping.Fields)
		if err := r.writer.WritePage(ctx, endpoint, p, entries); err != nil {
			return err
		}

		recordsWritten += len(entries)
		gtrPagesWrittenTotal.WithLabelValues(endpoint).Inc()
		gtrRecordsExtractedTotal.WithLabelValues(endpoint).Add(float64(len(entries)))

		prevPercentage = r.logProgress(endpoint, p, totalPages, prevPercentage)
	}

	r.logger.Info().
		Str("endpoint", endpoint).
		Int("pages", totalPages).
		Int("records", recordsWritten).
		Dur("duration", time.Since(start)).
		Msg("Endpoint run complete")

	return nil
}

// logProgress logs the download percentage whenever the rounded value
// changes, which keeps multi-thousand-page runs readable.
func (r *Runner) logProgress(endpoint string, page, totalPages, prevPercentage int) int {
	percentage := page * 100 / totalPages
	if percentage != prevPercentage {
		r.logger.Info().
			Str("endpoint", endpoint).
			Int("page", page).
			Int("total_pages", totalPages).
			Int("progress_pct", percentage).
			Msg("Downloaded")
	}
	return percentage
}
