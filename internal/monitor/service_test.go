package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/diagnose"
	"github.com/fyrsmithlabs/remedyd/internal/ingest"
	"github.com/fyrsmithlabs/remedyd/internal/notify"
	"github.com/fyrsmithlabs/remedyd/internal/orchestrator"
)

type fakeSource struct {
	records  []ingest.LogRecord
	readErr  error
	commits  int
	blocking chan struct{}
}

func (f *fakeSource) Read(_ context.Context, now time.Time) (*ingest.Batch, error) {
	if f.blocking != nil {
		<-f.blocking
	}
	if f.readErr != nil {
		return nil, f.readErr
	}
	return &ingest.Batch{Date: now, Records: f.records}, nil
}

func (f *fakeSource) Commit(context.Context, *ingest.Batch) error {
	f.commits++
	return nil
}

type fakeDedup struct {
	suppress map[string]bool
	err      error
	flushes  int
}

func (f *fakeDedup) ShouldAlert(_ time.Time, record ingest.LogRecord) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return !f.suppress[record.Fingerprint()], nil
}

func (f *fakeDedup) Flush(time.Time) error {
	f.flushes++
	return nil
}

type fakeLimiter struct {
	refuse bool
	err    error
	calls  int
}

func (f *fakeLimiter) TryAcquire(time.Time) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return !f.refuse, nil
}

type fakeDiagnoser struct {
	report *diagnose.Report
	err    error
	calls  int
}

func (f *fakeDiagnoser) Diagnose(_ context.Context, record ingest.LogRecord) (*diagnose.Report, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

type fakeRemediator struct {
	outcome *orchestrator.Outcome
	calls   int
}

func (f *fakeRemediator) Run(context.Context, *diagnose.Report) *orchestrator.Outcome {
	f.calls++
	if f.outcome != nil {
		return f.outcome
	}
	return &orchestrator.Outcome{State: orchestrator.StateSucceeded}
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) sent() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message{}, n.msgs...)
}

type fakePurger struct {
	calls int
}

func (f *fakePurger) Purge(time.Time, time.Duration) (int, error) {
	f.calls++
	return 2, nil
}

func errorRecord(code, target string) ingest.LogRecord {
	return ingest.LogRecord{
		Timestamp: time.Now(),
		Level:     "ERROR",
		Target:    target,
		Message:   "request failed",
		ErrorCode: code,
		RequestID: "req-1",
	}
}

func fixableReport() *diagnose.Report {
	return &diagnose.Report{
		Severity:      "critical",
		RootCause:     "missing nil check",
		Impact:        "panics under load",
		AutoFixable:   true,
		FixSuggestion: "add a nil check",
		ErrorCode:     "AI5001",
		Target:        "server::domain::ai::service",
	}
}

type deps struct {
	source     *fakeSource
	dedup      *fakeDedup
	limiter    *fakeLimiter
	diagnoser  *fakeDiagnoser
	remediator *fakeRemediator
	notifier   *recordingNotifier
	purger     *fakePurger
}

func newDeps(records ...ingest.LogRecord) *deps {
	return &deps{
		source:     &fakeSource{records: records},
		dedup:      &fakeDedup{suppress: map[string]bool{}},
		limiter:    &fakeLimiter{},
		diagnoser:  &fakeDiagnoser{report: fixableReport()},
		remediator: &fakeRemediator{},
		notifier:   &recordingNotifier{},
		purger:     &fakePurger{},
	}
}

func newService(t *testing.T, d *deps) *Service {
	t.Helper()
	svc, err := New(Deps{
		Source:     d.source,
		Dedup:      d.dedup,
		Limiter:    d.limiter,
		Diagnoser:  d.diagnoser,
		Remediator: d.remediator,
		Notifier:   d.notifier,
		Purger:     d.purger,
	}, 7*24*time.Hour, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestRunCycleFirstTimeError(t *testing.T) {
	d := newDeps(errorRecord("AI5001", "server::domain::ai::service"))
	svc := newService(t, d)

	stats, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 1, stats.Alerts)
	assert.Equal(t, 0, stats.Suppressed)
	assert.Equal(t, 1, stats.Remediations)
	assert.Equal(t, 1, stats.Published)

	assert.Equal(t, 1, d.diagnoser.calls)
	assert.Equal(t, 1, d.remediator.calls)
	assert.Equal(t, 1, d.source.commits)
	assert.Equal(t, 1, d.dedup.flushes)
	assert.Equal(t, 1, d.purger.calls)

	msgs := d.notifier.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.SeverityCritical, msgs[0].Severity)
	assert.Contains(t, msgs[0].Title, "AI5001:server::domain::ai::service")
}

func TestRunCycleSuppressedDuplicate(t *testing.T) {
	rec := errorRecord("AI5001", "server::domain::ai::service")
	d := newDeps(rec, rec)
	d.dedup.suppress[rec.Fingerprint()] = true
	svc := newService(t, d)

	stats, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Records)
	assert.Equal(t, 0, stats.Alerts)
	assert.Equal(t, 2, stats.Suppressed)
	assert.Empty(t, d.notifier.sent())
	assert.Equal(t, 0, d.diagnoser.calls)
	// The batch is still committed; suppression is not a failure.
	assert.Equal(t, 1, d.source.commits)
}

func TestRunCycleRateLimitedStillNotifies(t *testing.T) {
	d := newDeps(errorRecord("AUTH4001", "server::utils::jwt"))
	d.limiter.refuse = true
	svc := newService(t, d)

	stats, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.RateLimited)
	assert.Equal(t, 0, d.diagnoser.calls)
	assert.Equal(t, 0, d.remediator.calls)

	msgs := d.notifier.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.SeverityWarning, msgs[0].Severity)

	var found bool
	for _, f := range msgs[0].Fields {
		if strings.Contains(f.Value, "rate limit") {
			found = true
		}
	}
	assert.True(t, found, "plain alert must say the diagnosis was rate limited")
}

func TestRunCycleDiagnoseFailureStillNotifies(t *testing.T) {
	d := newDeps(errorRecord("AI5001", "server::domain::ai::service"))
	d.diagnoser.err = errors.New("api down")
	svc := newService(t, d)

	stats, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.DiagnoseFailures)
	assert.Equal(t, 0, d.remediator.calls)
	require.Len(t, d.notifier.sent(), 1)
}

func TestRunCycleNonActionableReportSkipsRemediation(t *testing.T) {
	d := newDeps(errorRecord("RETRO4001", "server::domain::retro"))
	d.diagnoser.report = &diagnose.Report{Severity: "info", RootCause: "transient", AutoFixable: false}
	svc := newService(t, d)

	stats, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Remediations)
	assert.Equal(t, 0, d.remediator.calls)
	require.Len(t, d.notifier.sent(), 1)
}

func TestRunCycleReadErrorDoesNotCommit(t *testing.T) {
	d := newDeps()
	d.source.readErr = errors.New("disk gone")
	svc := newService(t, d)

	_, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, d.source.commits)
}

func TestRunCycleDedupErrorAbortsWithoutCommit(t *testing.T) {
	d := newDeps(errorRecord("AI5001", "server::domain::ai::service"))
	d.dedup.err = errors.New("state dir unwritable")
	svc := newService(t, d)

	_, err := svc.RunCycle(context.Background())
	require.Error(t, err)
	// No commit: the next cycle must redeliver the batch.
	assert.Equal(t, 0, d.source.commits)
	assert.Empty(t, d.notifier.sent())
}

func TestRunCycleSkipsWhenAlreadyRunning(t *testing.T) {
	d := newDeps()
	d.source.blocking = make(chan struct{})
	svc := newService(t, d)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.RunCycle(context.Background())
	}()

	// Wait until the first cycle is blocked inside Read.
	require.Eventually(t, func() bool {
		_, err := svc.RunCycle(context.Background())
		return errors.Is(err, ErrCycleRunning)
	}, time.Second, 5*time.Millisecond)

	close(d.source.blocking)
	<-done

	// With the first cycle finished, the service accepts work again.
	_, err := svc.RunCycle(context.Background())
	require.NoError(t, err)
}

func TestRunCycleRateLimiterErrorDegradesToPlainAlert(t *testing.T) {
	d := newDeps(errorRecord("AI5001", "server::domain::ai::service"))
	d.limiter.err = errors.New("rate file corrupt")
	svc := newService(t, d)

	stats, err := svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.RateLimited)
	assert.Equal(t, 0, d.diagnoser.calls)
	require.Len(t, d.notifier.sent(), 1)
}

func TestNewRequiresCoreCollaborators(t *testing.T) {
	_, err := New(Deps{}, time.Hour, zap.NewNop())
	assert.Error(t, err)
}
