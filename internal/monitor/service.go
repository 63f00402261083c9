// Package monitor wires the scan cycle together: read new log records,
// deduplicate, rate-limit the diagnostic call, notify, and hand
// actionable reports to the remediation orchestrator.
//
// The cycle degrades, never silences: a record that passes the dedup
// gate always produces exactly one alert notification, with diagnosis
// fields when the diagnostic service was available and plain otherwise.
// The ingest checkpoint is committed only after every record in the
// batch has been handled, so a crash mid-cycle redelivers the batch on
// the next invocation and the dedup window absorbs the duplicates.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/diagnose"
	"github.com/fyrsmithlabs/remedyd/internal/ingest"
	"github.com/fyrsmithlabs/remedyd/internal/notify"
	"github.com/fyrsmithlabs/remedyd/internal/orchestrator"
)

const instrumentationName = "github.com/fyrsmithlabs/remedyd/internal/monitor"

// ErrCycleRunning is returned when a scan cycle is requested while the
// previous one is still in flight. Triggers coalesce: the running cycle
// will pick up whatever the skipped one would have seen.
var ErrCycleRunning = errors.New("a scan cycle is already running")

// Source produces and commits batches of new log records.
// Implemented by ingest.Reader.
type Source interface {
	Read(ctx context.Context, now time.Time) (*ingest.Batch, error)
	Commit(ctx context.Context, batch *ingest.Batch) error
}

// Deduper suppresses repeated fingerprints. Implemented by
// dedup.Deduper.
type Deduper interface {
	ShouldAlert(now time.Time, record ingest.LogRecord) (bool, error)
	Flush(now time.Time) error
}

// RateLimiter caps diagnostic calls. Implemented by ratelimit.Limiter.
type RateLimiter interface {
	TryAcquire(now time.Time) (bool, error)
}

// Diagnoser produces a structured report for one record. Implemented by
// diagnose.Service.
type Diagnoser interface {
	Diagnose(ctx context.Context, record ingest.LogRecord) (*diagnose.Report, error)
}

// Remediator runs the fix pipeline. Implemented by
// orchestrator.Service.
type Remediator interface {
	Run(ctx context.Context, report *diagnose.Report) *orchestrator.Outcome
}

// Notifier delivers alerts. Implemented by notify.Notifier.
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) error
}

// Purger removes superseded state files. Implemented by
// statestore.Store.
type Purger interface {
	Purge(now time.Time, retention time.Duration) (int, error)
}

// CycleStats summarizes one scan cycle.
type CycleStats struct {
	Records          int
	Suppressed       int
	Alerts           int
	RateLimited      int
	DiagnoseFailures int
	Remediations     int
	Published        int
}

// Deps are the collaborators of one monitor service.
type Deps struct {
	Source  Source
	Dedup   Deduper
	Limiter RateLimiter
	// Diagnoser may be nil for alert-only deployments without an API
	// key; every alert is then plain.
	Diagnoser Diagnoser
	// Remediator may be nil to disable the fix pipeline.
	Remediator Remediator
	Notifier   Notifier
	// Purger may be nil; state files are then never purged here.
	Purger Purger
}

// Service runs scan cycles.
type Service struct {
	deps      Deps
	retention time.Duration
	logger    *zap.Logger

	busy atomic.Bool

	meter             metric.Meter
	recordsCounter    metric.Int64Counter
	alertsCounter     metric.Int64Counter
	suppressedCounter metric.Int64Counter
}

// New creates a monitor service. Source, Dedup, Limiter and Notifier
// are required.
func New(deps Deps, retention time.Duration, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("log source is required")
	case deps.Dedup == nil:
		return nil, errors.New("deduplicator is required")
	case deps.Limiter == nil:
		return nil, errors.New("rate limiter is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		deps:      deps,
		retention: retention,
		logger:    logger,
		meter:     otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.recordsCounter, err = s.meter.Int64Counter(
		"remedyd.monitor.records_total",
		metric.WithDescription("Total number of error records read from the log"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		s.logger.Warn("failed to create records counter", zap.Error(err))
	}

	s.alertsCounter, err = s.meter.Int64Counter(
		"remedyd.monitor.alerts_total",
		metric.WithDescription("Total number of alert notifications sent"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		s.logger.Warn("failed to create alerts counter", zap.Error(err))
	}

	s.suppressedCounter, err = s.meter.Int64Counter(
		"remedyd.monitor.suppressed_total",
		metric.WithDescription("Total number of records suppressed by deduplication"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		s.logger.Warn("failed to create suppressed counter", zap.Error(err))
	}
}

// RunCycle executes one scan cycle. A second call while one is running
// returns ErrCycleRunning instead of queueing.
func (s *Service) RunCycle(ctx context.Context) (*CycleStats, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrCycleRunning
	}
	defer s.busy.Store(false)

	now := time.Now()
	stats := &CycleStats{}

	batch, err := s.deps.Source.Read(ctx, now)
	if err != nil {
		return nil, err
	}

	for _, record := range batch.Records {
		stats.Records++

		alert, err := s.deps.Dedup.ShouldAlert(now, record)
		if err != nil {
			// State I/O failure: abort without committing so the next
			// cycle redelivers the batch.
			return stats, err
		}
		if !alert {
			stats.Suppressed++
			continue
		}

		stats.Alerts++
		s.handleAlert(ctx, now, record, stats)
	}

	if err := s.deps.Source.Commit(ctx, batch); err != nil {
		return stats, err
	}
	if err := s.deps.Dedup.Flush(now); err != nil {
		s.logger.Error("failed to flush dedup table", zap.Error(err))
	}
	if s.deps.Purger != nil && s.retention > 0 {
		if removed, err := s.deps.Purger.Purge(now, s.retention); err != nil {
			s.logger.Error("failed to purge state files", zap.Error(err))
		} else if removed > 0 {
			s.logger.Debug("purged superseded state files", zap.Int("removed", removed))
		}
	}

	s.count(ctx, stats)
	if stats.Records > 0 {
		s.logger.Info("scan cycle complete",
			zap.Int("records", stats.Records),
			zap.Int("alerts", stats.Alerts),
			zap.Int("suppressed", stats.Suppressed),
			zap.Int("rate_limited", stats.RateLimited),
			zap.Int("remediations", stats.Remediations),
			zap.Int("published", stats.Published),
		)
	}
	return stats, nil
}

// handleAlert drives one should-alert record: diagnosis when the rate
// limit allows, exactly one notification either way, remediation when
// the report is actionable.
func (s *Service) handleAlert(ctx context.Context, now time.Time, record ingest.LogRecord, stats *CycleStats) {
	logger := s.logger.With(zap.String("fingerprint", record.Fingerprint()))

	if s.deps.Diagnoser == nil {
		s.sendAlert(ctx, record, nil, "")
		return
	}

	ok, err := s.deps.Limiter.TryAcquire(now)
	if err != nil {
		logger.Error("rate limiter failed, skipping diagnosis", zap.Error(err))
		ok = false
	}
	if !ok {
		stats.RateLimited++
		s.sendAlert(ctx, record, nil, "diagnosis skipped: hourly rate limit reached")
		return
	}

	report, err := s.deps.Diagnoser.Diagnose(ctx, record)
	if err != nil {
		stats.DiagnoseFailures++
		logger.Warn("diagnosis failed, sending plain alert", zap.Error(err))
		s.sendAlert(ctx, record, nil, "diagnosis unavailable: "+err.Error())
		return
	}

	s.sendAlert(ctx, record, report, "")

	if s.deps.Remediator != nil && report.Actionable() {
		stats.Remediations++
		out := s.deps.Remediator.Run(ctx, report)
		if out.Succeeded() {
			stats.Published++
		}
	}
}

func (s *Service) sendAlert(ctx context.Context, record ingest.LogRecord, report *diagnose.Report, degraded string) {
	msg := notify.Message{
		Severity:      alertSeverity(record.Severity()),
		Title:         "Error detected: " + record.Fingerprint(),
		Body:          record.Message,
		CorrelationID: record.RequestID,
	}

	if code := record.ErrorCode; code != "" {
		msg.Fields = append(msg.Fields, notify.Field{Name: "Error code", Value: code, Inline: true})
	}
	if record.Target != "" {
		msg.Fields = append(msg.Fields, notify.Field{Name: "Target", Value: record.Target, Inline: true})
	}

	if report != nil {
		if report.RootCause != "" {
			msg.Fields = append(msg.Fields, notify.Field{Name: "Root cause", Value: report.RootCause})
		}
		if report.Impact != "" {
			msg.Fields = append(msg.Fields, notify.Field{Name: "Impact", Value: report.Impact})
		}
		msg.Fields = append(msg.Fields, notify.Field{
			Name:   "Auto-fixable",
			Value:  fmt.Sprintf("%t", report.Actionable()),
			Inline: true,
		})
	}
	if degraded != "" {
		msg.Fields = append(msg.Fields, notify.Field{Name: "Diagnosis", Value: degraded})
	}

	if err := s.deps.Notifier.Send(ctx, msg); err != nil {
		s.logger.Error("failed to deliver alert notification",
			zap.String("fingerprint", record.Fingerprint()),
			zap.Error(err),
		)
	}
}

func (s *Service) count(ctx context.Context, stats *CycleStats) {
	if s.recordsCounter != nil {
		s.recordsCounter.Add(ctx, int64(stats.Records))
	}
	if s.alertsCounter != nil {
		s.alertsCounter.Add(ctx, int64(stats.Alerts))
	}
	if s.suppressedCounter != nil {
		s.suppressedCounter.Add(ctx, int64(stats.Suppressed))
	}
}

func alertSeverity(s ingest.Severity) notify.Severity {
	switch s {
	case ingest.SeverityCritical:
		return notify.SeverityCritical
	case ingest.SeverityWarning:
		return notify.SeverityWarning
	default:
		return notify.SeverityInfo
	}
}
