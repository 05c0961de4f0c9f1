// Package scanner checks link destinations against VirusTotal in the
// background and blocks links that come back malicious or suspicious.
//
// Scanning is fail-open: submission errors, poll errors, analyses that never
// complete and a full queue all leave the link unblocked.
package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/config"
	"github.com/wadjakorntonsri/go-shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

var (
	ErrDisabled    = errors.New("url scanning is not configured")
	ErrMaxAttempts = errors.New("url scan results check failed: reached max attempts")
)

type Verdict int

const (
	VerdictPassed Verdict = iota
	VerdictFailed
)

func (v Verdict) String() string {
	if v == VerdictFailed {
		return "failed"
	}
	return "passed"
}

// Result is the outcome of one scan. Blocked is false for a failed verdict
// when the link was removed or re-pointed while the scan ran.
type Result struct {
	Verdict Verdict
	Blocked bool
}

type Scanner struct {
	client      *VirusTotalClient
	repo        ports.ShortLinkRepository
	cache       ports.RedirectCache
	interval    time.Duration
	maxAttempts int
	workers     int
	jobs        chan ports.ScanJob
	log         *zap.Logger

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started atomic.Bool
	stopped atomic.Bool
}

var _ ports.URLScanner = (*Scanner)(nil)

type Option func(*Scanner)

// WithRedirectCache drops cached redirect targets of links the scanner blocks.
func WithRedirectCache(cache ports.RedirectCache) Option {
	return func(s *Scanner) { s.cache = cache }
}

// New builds a scanner from cfg. With no API key the scanner is disabled and
// every Enqueue is a logged skip.
func New(cfg config.ScanConfig, repo ports.ShortLinkRepository, log *zap.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		repo:        repo,
		interval:    cfg.Interval,
		maxAttempts: max(cfg.MaxAttempts, 1),
		workers:     max(cfg.Workers, 1),
		jobs:        make(chan ports.ScanJob, max(cfg.QueueSize, 1)),
		log:         log.Named("scanner"),
	}
	if cfg.APIKey != "" {
		s.client = NewVirusTotalClient(cfg.APIKey, cfg.BaseURL)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) Enabled() bool {
	return s.client != nil
}

// Start launches the worker pool. Jobs queued before Start are kept.
func (s *Scanner) Start(ctx context.Context) {
	if !s.Enabled() {
		s.log.Warn("URL scanning disabled: no VirusTotal API key, links are treated as passed")
		return
	}
	if s.started.Swap(true) {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.log.Info("URL scanner started",
		zap.Int("workers", s.workers),
		zap.Duration("interval", s.interval),
		zap.Int("max_attempts", s.maxAttempts))
}

// Stop cancels in-flight scans and waits for the workers to exit.
func (s *Scanner) Stop() {
	if s.stopped.Swap(true) || !s.started.Load() {
		return
	}
	s.cancel()
	s.wg.Wait()
	if n := len(s.jobs); n > 0 {
		s.log.Info("URL scanner stopped with queued jobs", zap.Int("abandoned", n))
	}
}

// Enqueue never blocks. When the queue is full the job is dropped and the
// link stays unblocked.
func (s *Scanner) Enqueue(job ports.ScanJob) {
	if !s.Enabled() {
		metrics.Scans.WithLabelValues("skipped").Inc()
		s.log.Debug("scan skipped, scanning not configured", zap.String("short_id", job.ShortID))
		return
	}
	if s.stopped.Load() {
		metrics.Scans.WithLabelValues("dropped").Inc()
		s.log.Warn("scan dropped, scanner stopped", zap.String("short_id", job.ShortID))
		return
	}

	select {
	case s.jobs <- job:
	default:
		metrics.Scans.WithLabelValues("dropped").Inc()
		s.log.Warn("scan dropped, queue full",
			zap.Int64("link_id", job.LinkID),
			zap.String("short_id", job.ShortID))
	}
}

func (s *Scanner) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.process(ctx, job)
		}
	}
}

// process runs a job under its own deadline: every poll interval plus slack
// for the submit call.
func (s *Scanner) process(ctx context.Context, job ports.ScanJob) {
	ctx, cancel := context.WithTimeout(ctx, s.interval*time.Duration(s.maxAttempts)+time.Minute)
	defer cancel()

	log := s.log.With(
		zap.String("scan_id", uuid.NewString()),
		zap.Int64("link_id", job.LinkID),
		zap.String("short_id", job.ShortID),
		zap.String("destination", job.Destination))

	res, err := s.Run(ctx, job)
	switch {
	case err != nil:
		metrics.Scans.WithLabelValues(outcome(err)).Inc()
		log.Warn("scan aborted, link left unblocked", zap.Error(err))
	case res.Verdict == VerdictPassed:
		metrics.Scans.WithLabelValues("passed").Inc()
		log.Info("scan passed")
	case res.Blocked:
		metrics.Scans.WithLabelValues("blocked").Inc()
		log.Warn("link blocked by scan verdict")
	default:
		metrics.Scans.WithLabelValues("stale").Inc()
		log.Info("scan failed but link was removed or re-pointed, verdict discarded")
	}
}

// Run scans job.Destination synchronously and blocks the link on a failed
// verdict, as long as it still points at the scanned destination.
func (s *Scanner) Run(ctx context.Context, job ports.ScanJob) (Result, error) {
	verdict, err := s.Check(ctx, job.Destination)
	if err != nil {
		return Result{}, err
	}
	if verdict == VerdictPassed {
		return Result{Verdict: verdict}, nil
	}

	// by internal ID so a rename cannot dodge the block
	blocked, err := s.repo.SetBlocked(ctx, job.LinkID, job.Destination)
	if err != nil {
		return Result{Verdict: verdict}, err
	}
	if blocked {
		s.invalidate(ctx, job)
	}
	return Result{Verdict: verdict, Blocked: blocked}, nil
}

// Check submits destination and polls the analysis every interval until it
// completes or maxAttempts polls have been made.
func (s *Scanner) Check(ctx context.Context, destination string) (Verdict, error) {
	if !s.Enabled() {
		return VerdictPassed, ErrDisabled
	}

	analysisURL, err := s.client.Submit(ctx, destination)
	if err != nil {
		return VerdictPassed, err
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return VerdictPassed, ctx.Err()
		case <-ticker.C:
		}

		analysis, err := s.client.Analysis(ctx, analysisURL)
		if err != nil {
			return VerdictPassed, err
		}
		if analysis.Completed() {
			if analysis.Flagged() {
				return VerdictFailed, nil
			}
			return VerdictPassed, nil
		}
		if attempt >= s.maxAttempts {
			return VerdictPassed, ErrMaxAttempts
		}
	}
}

func (s *Scanner) invalidate(ctx context.Context, job ports.ScanJob) {
	if s.cache == nil {
		return
	}
	ids := []string{job.ShortID}
	if link, err := s.repo.GetByID(ctx, job.LinkID); err == nil && link.ShortID != job.ShortID {
		ids = append(ids, link.ShortID)
	}
	s.cache.Invalidate(ctx, ids...)
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrSubmit):
		return "submit_error"
	case errors.Is(err, ErrPoll):
		return "poll_error"
	case errors.Is(err, ErrMaxAttempts):
		return "max_attempts"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "block_error"
	}
}
