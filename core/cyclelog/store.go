// Package cyclelog keeps a queryable history of control cycles.
package cyclelog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/hems/core/model"
)

// Record captures the input, decision and outcome of one control cycle.
type Record struct {
	ID         string               `json:"id"`
	Timestamp  time.Time            `json:"timestamp"`
	Input      model.InputState     `json:"input"`
	Targets    model.Targets        `json:"targets"`
	Commands   []model.PowerCommand `json:"commands"`
	Enabled    bool                 `json:"enabled"`
	DurationMS float64              `json:"duration_ms"`
}

// NewRecord returns a record with a fresh ID.
func NewRecord(ts time.Time, in model.InputState, tg model.Targets, cmds []model.PowerCommand, enabled bool, d time.Duration) Record {
	return Record{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		Input:      in,
		Targets:    tg,
		Commands:   cmds,
		Enabled:    enabled,
		DurationMS: float64(d.Microseconds()) / 1000,
	}
}

// HasCommand reports whether the cycle emitted a command of type t.
func (r Record) HasCommand(t model.CommandType) bool {
	for _, c := range r.Commands {
		if c.Type == t {
			return true
		}
	}
	return false
}

// Affects reports whether the cycle emitted a command for the wallbox at l.
func (r Record) Affects(l model.Location) bool {
	return r.HasCommand(model.CurrentCommand(l)) || r.HasCommand(model.StartStopCommand(l))
}

// Query defines filters for retrieving records. Zero values match all.
// Limit keeps only the most recent matches.
type Query struct {
	Start    time.Time
	End      time.Time
	Type     model.Optional[model.CommandType]
	Location model.Optional[model.Location]
	Limit    int
}

func (q Query) matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if t, ok := q.Type.Get(); ok && !r.HasCommand(t) {
		return false
	}
	if l, ok := q.Location.Get(); ok && !r.Affects(l) {
		return false
	}
	return true
}

func (q Query) limit(res []Record) []Record {
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.Before(res[j].Timestamp) })
	if q.Limit > 0 && len(res) > q.Limit {
		res = res[len(res)-q.Limit:]
	}
	return res
}

// LogStore persists Records and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects and configures the cycle log backend.
type Config struct {
	Backend    string `json:"backend"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "none"
	}
	if c.Path == "" {
		switch c.Backend {
		case "jsonl":
			c.Path = "cycles.jsonl"
		case "sqlite":
			c.Path = "hems.db"
		}
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 30
	}
}

// Validate checks the backend name.
func (c Config) Validate() error {
	switch strings.ToLower(c.Backend) {
	case "none", "jsonl", "sqlite":
		return nil
	default:
		return fmt.Errorf("cyclelog: unknown backend %q", c.Backend)
	}
}

// New opens the configured store. The "none" backend returns a nil store.
func New(cfg Config) (LogStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("cyclelog: unknown backend %q", cfg.Backend)
	}
}
