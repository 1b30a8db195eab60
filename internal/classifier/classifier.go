// Package classifier decides whether a window title is a confirmation dialog
// and whether it is safe to confirm automatically.
//
// Evaluation order is fixed: every unsafe rule is tried before any safe rule,
// so text matching both kinds is reported unsafe.
package classifier

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/lim1712/orchestrator/internal/logging"
)

// Verdict is the classification outcome for one window.
type Verdict string

const (
	VerdictNone    Verdict = "none"    // nothing dialog-like
	VerdictSafe    Verdict = "safe"    // matched a safe rule and no unsafe rule
	VerdictUnsafe  Verdict = "unsafe"  // matched an unsafe rule
	VerdictUnknown Verdict = "unknown" // looks like a dialog but no rule matched
)

// Classification is the derived result for one title.
type Classification struct {
	Verdict    Verdict
	RuleID     string // empty unless a rule matched
	Normalized string
}

// Classifier evaluates titles against a swappable rule set.
type Classifier struct {
	mu    sync.RWMutex
	rules *compiled
	log   *slog.Logger
}

// New compiles rs into a Classifier.
func New(rs RuleSet) (*Classifier, error) {
	c, err := compile(rs)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		rules: c,
		log:   logging.WithComponent("classifier"),
	}, nil
}

// Reload swaps in a new rule set. An invalid set leaves the current one active.
func (c *Classifier) Reload(rs RuleSet) error {
	next, err := compile(rs)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.rules = next
	c.mu.Unlock()

	c.log.Info("rule set reloaded",
		slog.Int("unsafe_rules", len(next.unsafe)),
		slog.Int("safe_rules", len(next.safe)),
		slog.Int("markers", len(next.markers)),
	)
	return nil
}

// Classify maps a window title to a verdict. It always returns a verdict.
func (c *Classifier) Classify(title string) Classification {
	normalized := Normalize(title)
	out := Classification{Verdict: VerdictNone, Normalized: normalized}
	if normalized == "" {
		return out
	}

	c.mu.RLock()
	rules := c.rules
	c.mu.RUnlock()

	for _, r := range rules.unsafe {
		if r.matches(normalized) {
			out.Verdict, out.RuleID = VerdictUnsafe, r.id
			return out
		}
	}
	for _, r := range rules.safe {
		if r.matches(normalized) {
			out.Verdict, out.RuleID = VerdictSafe, r.id
			return out
		}
	}
	for _, m := range rules.markers {
		if strings.Contains(normalized, m) {
			out.Verdict = VerdictUnknown
			return out
		}
	}
	return out
}
