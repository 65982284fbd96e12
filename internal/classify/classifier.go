package classify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/roach88/awexport/internal/clock"
	"github.com/roach88/awexport/internal/config"
	"github.com/roach88/awexport/internal/event"
	"github.com/roach88/awexport/internal/source"
	"github.com/roach88/awexport/internal/tags"
)

// Classifier runs the matcher chain and the retag expansion.
type Classifier struct {
	cfg      *config.Compiled
	chain    []Matcher
	retagger *Retagger
	logger   *slog.Logger

	policy RetryPolicy
	clock  clock.Clock
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithRetryPolicy sets the sub-event retry policy. The default never retries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Classifier) { c.policy = p }
}

// WithClock sets the clock used to decide whether a segment is recent and
// to sleep between retries.
func WithClock(clk clock.Clock) Option {
	return func(c *Classifier) { c.clock = clk }
}

// New builds a classifier for the buckets in idx.
func New(cfg *config.Compiled, src source.EventSource, idx *source.Index, opts ...Option) *Classifier {
	c := &Classifier{cfg: cfg, logger: slog.Default(), policy: NoRetry(), clock: clock.System{}}
	for _, o := range opts {
		o(c)
	}
	lookup := NewLookup(src, c.policy, c.clock, cfg.Tuning.IgnoreInterval, c.logger)

	tmux := &tmuxMatcher{terminals: cfg.TerminalApps, rules: cfg.Tmux, lookup: lookup, logger: c.logger}
	if b, ok := idx.ByClient(event.ClientTmux); ok {
		tmux.bucket = b.ID
	}
	c.chain = []Matcher{
		afkMatcher{},
		tmux,
		&appMatcher{rules: cfg.App},
		&browserMatcher{apps: cfg.BrowserApps, idx: idx, rules: cfg.Browser, lookup: lookup, logger: c.logger},
		&editorMatcher{apps: cfg.EditorApps, idx: idx, rules: cfg.Editor, lookup: lookup, logger: c.logger},
	}
	c.retagger = NewRetagger(cfg.Retag, cfg.Exclusive, 0, c.logger)
	return c
}

// Retagger returns the classifier's retag expansion.
func (c *Classifier) Retagger() *Retagger {
	return c.retagger
}

// Classify maps seg to a tag set. Errors come from the event source or from
// a retag table that never settles; ambiguity is always expressed through
// the Result.
func (c *Classifier) Classify(ctx context.Context, seg event.Sample) (Classification, error) {
	if !seg.IsAFKStatus() && seg.Duration < c.cfg.Tuning.IgnoreInterval {
		return Classification{Result: Ignored}, nil
	}
	for _, m := range c.chain {
		out, err := m.Match(ctx, seg)
		if err != nil {
			return Classification{}, err
		}
		if !out.Claimed {
			continue
		}
		if out.Tags.Empty() {
			return Classification{Result: NoMatch}, nil
		}
		if out.Rule == ruleAFKStatus {
			return Classification{Result: Matched, Tags: out.Tags, Rule: out.Rule}, nil
		}
		expanded, err := c.retagger.Apply(out.Tags)
		switch {
		case IsExclusiveGroupError(err):
			c.logger.Warn("rule output breaks an exclusive group; retag skipped",
				"rule", out.Rule, "error", err)
			expanded = out.Tags
		case err != nil:
			return Classification{}, err
		}
		return Classification{Result: Matched, Tags: expanded, Rule: out.Rule}, nil
	}
	return Classification{Result: NoMatch}, nil
}

// AskAwayTags turns ask-away messages into tags: one per word.
func AskAwayTags(notes []event.Sample) tags.Set {
	out := tags.New()
	for _, n := range notes {
		for _, w := range strings.Fields(n.Message()) {
			out.Add(tags.Normalize(w))
		}
	}
	return out
}
