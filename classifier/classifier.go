package classifier

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/havenchat/warden/keyword"
	"github.com/havenchat/warden/models"
	"github.com/havenchat/warden/registry"
)

// Match is one rule hit within a scanned message. Position is the byte
// offset of the match within the normalized text.
type Match struct {
	Term     string
	Severity models.Severity
	Action   string
	Position int
}

// ScanResult is the verdict for one message. Score is the maximum per-match
// score (NONE=0 .. HIGH=3), Severity the severity tied to that maximum, and
// Matches are ordered by ascending position.
type ScanResult struct {
	Severity models.Severity
	Matches  []Match
	Score    int
}

// Classifier maps raw message text to a ScanResult using the registry's
// current rule snapshot. The hot path touches no network or durable storage
// beyond the registry cache.
type Classifier struct {
	Registry *registry.Registry
	Logger   *slog.Logger
}

func NewClassifier(reg *registry.Registry, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		Registry: reg,
		Logger:   logger.With("subsystem", "classifier"),
	}
}

// Classify scans text against the enabled rule set. Empty or whitespace-only
// input short-circuits without consulting the registry. A single rule
// evaluation failure is logged and skipped; it never aborts the scan.
func (c *Classifier) Classify(ctx context.Context, text string) (ScanResult, error) {
	if strings.TrimSpace(text) == "" {
		return ScanResult{Severity: models.SeverityNone, Matches: []Match{}, Score: 0}, nil
	}

	rules, err := c.Registry.Load(ctx, false)
	if err != nil {
		return ScanResult{Severity: models.SeverityNone, Matches: []Match{}, Score: 0}, err
	}

	tokens := keyword.TokenizeText(text)
	normalized := strings.Join(tokens, " ")
	offsets := tokenOffsets(tokens)

	result := ScanResult{Severity: models.SeverityNone, Matches: []Match{}, Score: 0}
	for _, rule := range rules {
		m, ok := c.evalRule(rule, normalized, tokens, offsets)
		if !ok {
			continue
		}
		result.Matches = append(result.Matches, m)
		// ties keep the first rule encountered at that score
		if m.Severity.Score() > result.Score {
			result.Score = m.Severity.Score()
			result.Severity = m.Severity
		}
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].Position < result.Matches[j].Position
	})
	return result, nil
}

// evalRule applies one rule to the normalized text, recovering from any
// panic so a single bad rule cannot block classification of the message.
func (c *Classifier) evalRule(rule registry.Rule, normalized string, tokens []string, offsets []int) (m Match, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("rule evaluation exception", "ruleID", rule.ID, "err", r)
			ok = false
		}
	}()

	if rule.IsPattern {
		if rule.Pattern == nil {
			return Match{}, false
		}
		loc := rule.Pattern.FindStringIndex(normalized)
		if loc == nil {
			return Match{}, false
		}
		return Match{
			Term:     normalized[loc[0]:loc[1]],
			Severity: rule.Severity,
			Action:   rule.Action,
			Position: loc[0],
		}, true
	}

	pos, found := matchPhrase(tokens, offsets, strings.Fields(rule.Term))
	if !found {
		return Match{}, false
	}
	return Match{
		Term:     rule.Term,
		Severity: rule.Severity,
		Action:   rule.Action,
		Position: pos,
	}, true
}

// matchPhrase finds the first occurrence of phrase as a contiguous token
// sequence. Matching whole tokens gives word boundaries on both ends, so
// "stress" does not match inside "stressed".
func matchPhrase(tokens []string, offsets []int, phrase []string) (int, bool) {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return 0, false
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		matched := true
		for j, p := range phrase {
			if tokens[i+j] != p {
				matched = false
				break
			}
		}
		if matched {
			return offsets[i], true
		}
	}
	return 0, false
}

func tokenOffsets(tokens []string) []int {
	offsets := make([]int, len(tokens))
	off := 0
	for i, tok := range tokens {
		offsets[i] = off
		off += len(tok) + 1
	}
	return offsets
}
