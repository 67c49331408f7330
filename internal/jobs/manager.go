package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"hlsgrab/internal/pipeline"
	"hlsgrab/internal/platform/metrics"
)

var (
	// ErrInvalidInput is returned when a submitted input is not a usable
	// "<url>" or "<url>|<display name>" line.
	ErrInvalidInput = errors.New("input is not an http(s) playlist url")

	// ErrJobFinished is returned when cancelling a job that already
	// reached a terminal state.
	ErrJobFinished = errors.New("job already finished")
)

// DefaultEventInterval is the minimum spacing of intermediate progress
// events recorded per job.
const DefaultEventInterval = 500 * time.Millisecond

// Manager launches one pipeline run per submitted job and records progress
// into the Registry.
type Manager struct {
	reg           Registry
	pipe          *pipeline.Pipeline
	deliverer     pipeline.Deliverer
	log           *slog.Logger
	metrics       *metrics.Metrics
	eventInterval time.Duration
}

// NewManager returns a Manager. metrics may be nil to disable metric
// recording (e.g. in tests); eventInterval <= 0 uses DefaultEventInterval.
func NewManager(reg Registry, pipe *pipeline.Pipeline, deliverer pipeline.Deliverer, log *slog.Logger, m *metrics.Metrics, eventInterval time.Duration) *Manager {
	if eventInterval <= 0 {
		eventInterval = DefaultEventInterval
	}
	return &Manager{
		reg:           reg,
		pipe:          pipe,
		deliverer:     deliverer,
		log:           log,
		metrics:       m,
		eventInterval: eventInterval,
	}
}

// Submit validates the input, registers a job and starts its pipeline run.
func (m *Manager) Submit(input string) (Job, error) {
	rawURL, _ := pipeline.ParseInput(input, time.Now())
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return Job{}, ErrInvalidInput
	}

	job := m.reg.Create(input)

	// The cancel hook must be visible before the goroutine starts so a
	// Cancel racing with Submit is never dropped.
	ctx, cancel := context.WithCancel(context.Background())
	m.reg.Update(job.ID, func(st *JobState) {
		st.Cancel = cancel
	})

	if m.metrics != nil {
		m.metrics.IncJobsStarted()
	}
	go m.run(ctx, cancel, job.ID, input)
	return job, nil
}

// Snapshot returns the current state of a job.
func (m *Manager) Snapshot(id uuid.UUID) (Job, bool) {
	return m.reg.Snapshot(id)
}

// Events returns the recorded ordered progress events of a job.
func (m *Manager) Events(id uuid.UUID) ([]pipeline.Event, bool) {
	return m.reg.Events(id)
}

// RunningCount returns the number of unfinished jobs.
func (m *Manager) RunningCount() int {
	return m.reg.RunningCount()
}

// Cancel requests cooperative cancellation of a running job. ok is false if
// the job does not exist; ErrJobFinished is returned for terminal jobs.
func (m *Manager) Cancel(id uuid.UUID) (ok bool, err error) {
	var cancel context.CancelFunc
	found := m.reg.Update(id, func(st *JobState) {
		if st.Job.Status.Finished() {
			err = ErrJobFinished
			return
		}
		cancel = st.Cancel
	})
	if !found {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	if cancel != nil {
		cancel()
	}
	return true, nil
}

// run executes the job's pipeline and records its terminal outcome.
func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, id uuid.UUID, input string) {
	defer cancel()

	m.reg.Update(id, func(st *JobState) {
		st.Job.Status = StatusRunning
	})

	sink := pipeline.NewThrottledSink(pipeline.SinkFunc(func(ev pipeline.Event) {
		m.reg.AppendEvent(id, ev)
	}), m.eventInterval)

	artifacts, err := m.pipe.Run(ctx, input, m.deliverer, sink)

	now := time.Now().UTC()
	m.reg.Update(id, func(st *JobState) {
		st.Cancel = nil
		st.Job.FinishedAt = &now
		switch {
		case err == nil:
			st.Job.Status = StatusSucceeded
			st.Job.Percent = 100
			st.Job.Artifacts = artifacts
		case errors.Is(err, context.Canceled):
			st.Job.Status = StatusCancelled
			st.Job.ErrorKind = pipeline.ErrorKind(err)
			st.Job.Error = err.Error()
		default:
			st.Job.Status = StatusFailed
			st.Job.ErrorKind = pipeline.ErrorKind(err)
			st.Job.Error = err.Error()
		}
	})

	switch {
	case err == nil:
		if m.metrics != nil {
			m.metrics.IncJobsSucceeded()
		}
		m.log.Info("job succeeded", slog.String("job_id", id.String()), slog.Int("parts", len(artifacts)))
	default:
		if m.metrics != nil {
			m.metrics.IncJobsFailed()
		}
		m.log.Info("job failed",
			slog.String("job_id", id.String()),
			slog.String("kind", pipeline.ErrorKind(err)),
			slog.String("error", err.Error()))
	}
}

// PipelineStats adapts the Prometheus metrics to the pipeline.Stats
// interface so segment-level counters are recorded during runs.
func PipelineStats(m *metrics.Metrics) pipeline.Stats {
	return statsAdapter{m: m}
}

type statsAdapter struct {
	m *metrics.Metrics
}

func (s statsAdapter) SegmentFetched(bytes int64) {
	s.m.IncSegmentsFetched()
	s.m.AddBytesFetched(bytes)
}

func (s statsAdapter) SegmentRetried() {
	s.m.IncSegmentRetries()
}

func (s statsAdapter) PartDelivered() {
	s.m.IncPartsDelivered()
}
