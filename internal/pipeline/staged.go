// Package pipeline records per-execution stage timings and statuses for
// introspection. It is purely observational and never alters a pipeline
// outcome.
package pipeline

import (
	"sync"
	"time"
)

type Stage string

const (
	StageValidate Stage = "validate"
	StagePrice    Stage = "price"
	StageStrategy Stage = "strategy"
	StageRisk     Stage = "risk"
	StageMode     Stage = "mode"
	StageExecute  Stage = "execute"
	StagePersist  Stage = "persist"
)

type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageRejected StageStatus = "rejected"
	StageFailed   StageStatus = "failed"
)

type StageRecord struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Detail     string      `json:"detail,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
	DurationMs float64     `json:"duration_ms"`
}

// RunReport is one pipeline run, retrievable by intent or execution id.
type RunReport struct {
	IntentID    string        `json:"intent_id"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Stages      []StageRecord `json:"stages"`
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
}

type stageAggregate struct {
	Count      int64   `json:"count"`
	Failures   int64   `json:"failures"`
	Rejections int64   `json:"rejections"`
	TotalMs    float64 `json:"total_ms"`
	MaxMs      float64 `json:"max_ms"`
}

type StageMetrics struct {
	Count      int64   `json:"count"`
	Failures   int64   `json:"failures"`
	Rejections int64   `json:"rejections"`
	AvgMs      float64 `json:"avg_ms"`
	MaxMs      float64 `json:"max_ms"`
}

// Tracker keeps the most recent runs (bounded) plus cumulative per-stage
// aggregates.
type Tracker struct {
	mu    sync.Mutex
	runs  map[string]*RunReport
	order []string
	limit int
	agg   map[Stage]*stageAggregate
}

func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = 1024
	}
	return &Tracker{
		runs:  map[string]*RunReport{},
		limit: limit,
		agg:   map[Stage]*stageAggregate{},
	}
}

// Run is a single in-flight pipeline pass. Not safe for concurrent use;
// each pass owns its Run.
type Run struct {
	t      *Tracker
	report *RunReport
}

func (t *Tracker) Begin(intentID string) *Run {
	return &Run{
		t:      t,
		report: &RunReport{IntentID: intentID, StartedAt: time.Now().UTC()},
	}
}

// StageStart marks a stage begin and returns its completion callback.
func (r *Run) StageStart(stage Stage) func(status StageStatus, detail string) {
	start := time.Now().UTC()
	return func(status StageStatus, detail string) {
		end := time.Now().UTC()
		r.report.Stages = append(r.report.Stages, StageRecord{
			Stage:      stage,
			Status:     status,
			Detail:     detail,
			StartedAt:  start,
			EndedAt:    end,
			DurationMs: float64(end.Sub(start).Microseconds()) / 1000,
		})
	}
}

func (r *Run) SetExecutionID(id string) {
	r.report.ExecutionID = id
}

// Finish publishes the run to the tracker.
func (r *Run) Finish() {
	r.report.EndedAt = time.Now().UTC()
	r.t.commit(r.report)
}

func (t *Tracker) commit(report *RunReport) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runs[report.IntentID] = report
	t.order = append(t.order, report.IntentID)
	if report.ExecutionID != "" {
		t.runs[report.ExecutionID] = report
	}
	for len(t.order) > t.limit {
		oldest := t.order[0]
		t.order = t.order[1:]
		if old, ok := t.runs[oldest]; ok {
			delete(t.runs, oldest)
			if old.ExecutionID != "" {
				delete(t.runs, old.ExecutionID)
			}
		}
	}

	for _, rec := range report.Stages {
		a, ok := t.agg[rec.Stage]
		if !ok {
			a = &stageAggregate{}
			t.agg[rec.Stage] = a
		}
		a.Count++
		a.TotalMs += rec.DurationMs
		if rec.DurationMs > a.MaxMs {
			a.MaxMs = rec.DurationMs
		}
		switch rec.Status {
		case StageFailed:
			a.Failures++
		case StageRejected:
			a.Rejections++
		}
	}
}

// Get looks a run up by intent or execution id.
func (t *Tracker) Get(key string) (*RunReport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	report, ok := t.runs[key]
	if !ok {
		return nil, false
	}
	cp := *report
	cp.Stages = append([]StageRecord(nil), report.Stages...)
	return &cp, true
}

func (t *Tracker) Metrics() map[Stage]StageMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Stage]StageMetrics, len(t.agg))
	for stage, a := range t.agg {
		m := StageMetrics{
			Count:      a.Count,
			Failures:   a.Failures,
			Rejections: a.Rejections,
			MaxMs:      a.MaxMs,
		}
		if a.Count > 0 {
			m.AvgMs = a.TotalMs / float64(a.Count)
		}
		out[stage] = m
	}
	return out
}
