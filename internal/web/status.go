package web

import (
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

const serviceName = "compass-ng"

// Status aggregates the health of the running components for /api/status.
type Status struct {
	instanceID string
	start      time.Time

	mu         sync.RWMutex
	static     map[string]any
	components map[string]func() any
}

// NewStatus tags every snapshot with instanceID so clients can tell restarts
// apart.
func NewStatus(instanceID string) *Status {
	return &Status{
		instanceID: instanceID,
		start:      time.Now().UTC(),
		static:     map[string]any{},
		components: map[string]func() any{},
	}
}

// SetStatic records fixed facts about the process, such as the source kind.
func (s *Status) SetStatic(info map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range info {
		s.static[k] = v
	}
}

// Register adds a component whose snapshot fn is sampled on each request.
func (s *Status) Register(name string, fn func() any) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[name] = fn
}

type StatusSnapshot struct {
	Service    string         `json:"service"`
	InstanceID string         `json:"instance_id,omitempty"`
	NowUTC     string         `json:"now_utc"`
	StartedUTC string         `json:"started_utc"`
	UptimeSec  int64          `json:"uptime_sec"`
	Uptime     string         `json:"uptime"`
	Info       map[string]any `json:"info"`
	Components map[string]any `json:"components"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.mu.RLock()
	info := make(map[string]any, len(s.static))
	for k, v := range s.static {
		info[k] = v
	}
	fns := make(map[string]func() any, len(s.components))
	for k, fn := range s.components {
		fns[k] = fn
	}
	s.mu.RUnlock()

	// Sample outside the lock; component snapshots take their own locks.
	comps := make(map[string]any, len(fns))
	for k, fn := range fns {
		comps[k] = fn()
	}

	return StatusSnapshot{
		Service:    serviceName,
		InstanceID: s.instanceID,
		NowUTC:     nowUTC.Format(time.RFC3339Nano),
		StartedUTC: s.start.Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(s.start).Seconds()),
		Uptime:     strings.TrimSpace(humanize.RelTime(s.start, nowUTC, "", "")),
		Info:       info,
		Components: comps,
	}
}
