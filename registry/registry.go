package registry

import (
	"context"
	"log/slog"
	"regexp"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/havenchat/warden/keyword"
	"github.com/havenchat/warden/models"
)

// DefaultTTL bounds rule-set staleness. Classification must never block on a
// slow rule store, so the cache is refreshed at most this often.
var DefaultTTL = 5 * time.Minute

// Rule is one moderation rule, prepared for matching: the term is normalized
// and pattern rules carry a pre-compiled case-insensitive regexp.
type Rule struct {
	ID        uint64
	Term      string
	IsPattern bool
	Pattern   *regexp.Regexp // nil for literal rules, and for patterns which failed to compile
	Severity  models.Severity
	Action    string
}

// Snapshot is an immutable, fully-formed view of the enabled rule set.
// Snapshots are replaced wholesale, never mutated, so concurrent readers
// never observe a partial rule set.
type Snapshot struct {
	Rules    []Rule
	LoadedAt time.Time
}

// Registry serves the current enabled rule set with bounded staleness. On
// source failure it falls back to the last-known-good snapshot, even if
// stale: availability over freshness.
type Registry struct {
	source Source
	ttl    time.Duration
	logger *slog.Logger

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

func NewRegistry(source Source, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		source: source,
		ttl:    DefaultTTL,
		logger: logger.With("subsystem", "registry"),
	}
}

// WithTTL overrides the snapshot TTL. Mostly for tests.
func (r *Registry) WithTTL(ttl time.Duration) *Registry {
	r.ttl = ttl
	return r
}

// Load returns the cached rule set if it is fresh and force is false;
// otherwise it re-reads from the source, atomically swapping in a new
// snapshot. Concurrent refreshes are collapsed into a single source read.
func (r *Registry) Load(ctx context.Context, force bool) ([]Rule, error) {
	snap := r.snap.Load()
	if !force && snap != nil && time.Since(snap.LoadedAt) < r.ttl {
		return snap.Rules, nil
	}

	v, err, _ := r.group.Do("refresh", func() (any, error) {
		rows, err := r.source.ListEnabled(ctx)
		if err != nil {
			return nil, err
		}
		next := buildSnapshot(rows, r.logger)
		r.snap.Store(next)
		return next, nil
	})
	if err != nil {
		if prev := r.snap.Load(); prev != nil {
			r.logger.Warn("rule refresh failed, serving stale snapshot", "err", err, "age", time.Since(prev.LoadedAt))
			return prev.Rules, nil
		}
		return nil, err
	}
	return v.(*Snapshot).Rules, nil
}

// Invalidate clears the cached snapshot; the next Load forces a re-read.
func (r *Registry) Invalidate() {
	r.snap.Store(nil)
}

func buildSnapshot(rows []models.KeywordRule, logger *slog.Logger) *Snapshot {
	rules := make([]Rule, 0, len(rows))
	for _, row := range rows {
		rule := Rule{
			ID:        row.ID,
			Term:      keyword.NormalizeText(row.Term),
			IsPattern: row.IsPattern,
			Severity:  row.Severity,
			Action:    row.Action,
		}
		if row.IsPattern {
			// patterns are matched against normalized text, case-insensitive
			re, err := regexp.Compile("(?i)" + row.Term)
			if err != nil {
				// a malformed pattern must never block the rest of the rule set
				logger.Warn("skipping malformed pattern rule", "ruleID", row.ID, "err", err)
				continue
			}
			rule.Pattern = re
			rule.Term = row.Term
		} else if rule.Term == "" {
			logger.Warn("skipping empty literal rule", "ruleID", row.ID)
			continue
		}
		rules = append(rules, rule)
	}
	return &Snapshot{
		Rules:    rules,
		LoadedAt: time.Now(),
	}
}
