package targeting

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "Should reject a missing value", rule: Rule{Type: RuleTypeUserIDList}, wantErr: true},
		{name: "Should reject user ids of the wrong type", rule: Rule{Type: RuleTypeUserIDList, Value: map[string]any{"user_ids": "abc"}}, wantErr: true},
		{name: "Should accept an empty user id list", rule: Rule{Type: RuleTypeUserIDList, Value: map[string]any{"user_ids": []any{}}}},
		{name: "Should reject an attribute rule without attribute", rule: Rule{Type: RuleTypeAttributeIn, Value: map[string]any{"values": []any{"beta"}}}, wantErr: true},
		{name: "Should accept an attribute rule", rule: Rule{Type: RuleTypeAttributeIn, Value: map[string]any{"attribute": "channel", "values": []any{"beta"}}}},
		{name: "Should reject a negative percentage", rule: Rule{Type: RuleTypePercentage, Value: map[string]any{"percentage": -1}}, wantErr: true},
		{name: "Should reject a percentage above 100", rule: Rule{Type: RuleTypePercentage, Value: map[string]any{"percentage": 101}}, wantErr: true},
		{name: "Should accept a percentage", rule: Rule{Type: RuleTypePercentage, Value: map[string]any{"percentage": 25}}},
		{name: "Should reject ENROLLED_IN without slugs", rule: Rule{Type: RuleTypeEnrolledIn, Value: map[string]any{}}, wantErr: true},
		{name: "Should accept NOT_ENROLLED_IN", rule: Rule{Type: RuleTypeNotEnrolledIn, Value: map[string]any{"slugs": []any{"exp-a"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rules := []Rule{tt.rule}
			rules[0].ID = "test_rule"

			err := CompileRules(rules)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "test_rule")
				assert.Nil(t, rules[0].Matcher)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, rules[0].Matcher)
		})
	}

	t.Run("Should leave unknown rule types uncompiled", func(t *testing.T) {
		rules := []Rule{{ID: "geo", Type: "GEO_LOCATION"}}
		require.NoError(t, CompileRules(rules))
		assert.Nil(t, rules[0].Matcher)
	})
}

func TestCompileRules_UserIDListSize(t *testing.T) {
	t.Parallel()

	for _, size := range []int{MaxUserIDListSize, MaxUserIDListSize + 1} {
		t.Run(fmt.Sprintf("Should enforce the limit at %d ids", size), func(t *testing.T) {
			ids := make([]any, size)
			for i := range ids {
				ids[i] = fmt.Sprintf("user_%d", i)
			}
			rules := []Rule{{ID: "big", Type: RuleTypeUserIDList, Value: map[string]any{"user_ids": ids}}}

			err := CompileRules(rules)
			if size > MaxUserIDListSize {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "exceeds maximum size")
				return
			}
			require.NoError(t, err)
			assert.True(t, rules[0].Matcher.Match(EvaluationInput{Client: Context{UserID: "user_0"}}))
		})
	}
}

func TestCompileRules_StopsAtFirstInvalidRule(t *testing.T) {
	t.Parallel()

	rules := []Rule{
		{ID: "valid", Type: RuleTypeUserIDList, Value: map[string]any{"user_ids": []any{"user1"}}},
		{ID: "invalid", Type: RuleTypePercentage, Value: map[string]any{"percentage": 500}},
		{ID: "never_reached", Type: RuleTypeUserIDList, Value: map[string]any{"user_ids": []any{"user2"}}},
	}

	err := CompileRules(rules)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
	assert.NotNil(t, rules[0].Matcher)
	assert.Nil(t, rules[2].Matcher)
}
