package targeting

import "log/slog"

// Engine evaluates compiled rules.
type Engine struct {
	logger *slog.Logger
}

// New creates an Engine. A nil logger means slog.Default.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// Evaluate reports whether input satisfies every rule; no rules target
// everyone. A rule without a Matcher is skipped, so a broken rule never
// excludes a client.
func (e *Engine) Evaluate(rules []Rule, input EvaluationInput) bool {
	for _, r := range rules {
		if r.Matcher == nil {
			if _, known := compilers[r.Type]; known {
				e.logger.Error("rule not compiled, ignoring",
					slog.String("rule_id", r.ID),
					slog.String("type", r.Type),
					slog.String("slug", input.Slug),
				)
			} else {
				e.logger.Warn("skipping unknown rule type",
					slog.String("rule_id", r.ID),
					slog.String("type", r.Type),
					slog.String("slug", input.Slug),
				)
			}
			continue
		}
		if !r.Matcher.Match(input) {
			return false
		}
	}
	return true
}
