package targeting

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngine_Evaluate(t *testing.T) {
	never := MatcherFunc(func(EvaluationInput) bool { return false })

	tests := []struct {
		name    string
		rules   []Rule
		input   EvaluationInput
		want    bool
		wantLog string
	}{
		{
			name:  "Should target everyone when there are no rules",
			input: EvaluationInput{Client: Context{UserID: "any"}, Slug: "exp"},
			want:  true,
		},
		{
			name: "Should require every rule to match",
			rules: []Rule{
				{Type: RuleTypeUserIDList, Matcher: UserIDs("user-vip")},
				{Type: RuleTypePercentage, Matcher: never},
			},
			input: EvaluationInput{Client: Context{UserID: "user-vip"}, Slug: "exp"},
			want:  false,
		},
		{
			name: "Should match when all rules match",
			rules: []Rule{
				{Type: RuleTypeUserIDList, Matcher: UserIDs("user-vip")},
				{Type: RuleTypeNotEnrolledIn, Matcher: NotEnrolledIn(Enrollment{Slugs: []string{"other"}})},
			},
			input: EvaluationInput{Client: Context{UserID: "user-vip"}, Slug: "exp"},
			want:  true,
		},
		{
			name: "Should skip unknown rule types with a warning",
			rules: []Rule{
				{ID: "rule-unknown", Type: "GEO_LOCATION"},
				{Type: RuleTypeUserIDList, Matcher: UserIDs("user-a")},
			},
			input:   EvaluationInput{Client: Context{UserID: "user-a"}, Slug: "exp"},
			want:    true,
			wantLog: "skipping unknown rule type",
		},
		{
			name: "Should fail open on a known rule that was never compiled",
			rules: []Rule{
				{ID: "rule-raw", Type: RuleTypeUserIDList, Value: map[string]any{"user_ids": []any{"x"}}},
			},
			input:   EvaluationInput{Client: Context{UserID: "user-b"}, Slug: "exp"},
			want:    true,
			wantLog: "rule not compiled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var logs bytes.Buffer
			engine := New(slog.New(slog.NewTextHandler(&logs, nil)))

			assert.Equal(t, tt.want, engine.Evaluate(tt.rules, tt.input))
			if tt.wantLog != "" {
				assert.Contains(t, logs.String(), tt.wantLog)
			}
		})
	}
}
