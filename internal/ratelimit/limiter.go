// Package ratelimit is the per-agent admission gate in front of intent
// submission. A denied submission never reaches the pipeline; the only
// state it touches is the denial counter.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Config struct {
	RequestsPerWindow int
	Window            time.Duration
}

type Result struct {
	Allowed           bool `json:"allowed"`
	RetryAfterSeconds int  `json:"retry_after_seconds,omitempty"`
	Limit             int  `json:"limit"`
}

type windowState struct {
	start time.Time
	count int
}

// Limiter is a fixed-window counter per agent.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu            sync.Mutex
	windows       map[string]*windowState
	allowedTotal  int64
	deniedTotal   int64
	deniedByAgent map[string]int64
}

func New(cfg Config) *Limiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		cfg:           cfg,
		now:           time.Now,
		windows:       map[string]*windowState{},
		deniedByAgent: map[string]int64{},
	}
}

func (l *Limiter) Check(agentID string) Result {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[agentID]
	if !ok || now.Sub(w.start) >= l.cfg.Window {
		w = &windowState{start: now}
		l.windows[agentID] = w
	}
	if w.count < l.cfg.RequestsPerWindow {
		w.count++
		l.allowedTotal++
		return Result{Allowed: true, Limit: l.cfg.RequestsPerWindow}
	}
	l.deniedTotal++
	l.deniedByAgent[agentID]++
	retryAfter := int(math.Ceil(w.start.Add(l.cfg.Window).Sub(now).Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return Result{Allowed: false, RetryAfterSeconds: retryAfter, Limit: l.cfg.RequestsPerWindow}
}

type Metrics struct {
	AllowedTotal  int64            `json:"allowed_total"`
	DeniedTotal   int64            `json:"denied_total"`
	DeniedByAgent map[string]int64 `json:"denied_by_agent"`
}

func (l *Limiter) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	byAgent := make(map[string]int64, len(l.deniedByAgent))
	for id, n := range l.deniedByAgent {
		byAgent[id] = n
	}
	return Metrics{
		AllowedTotal:  l.allowedTotal,
		DeniedTotal:   l.deniedTotal,
		DeniedByAgent: byAgent,
	}
}
