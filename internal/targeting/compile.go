package targeting

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxUserIDListSize caps a USER_ID_LIST rule. Larger populations belong in
// attribute or percentage rules.
const MaxUserIDListSize = 10_000

// ErrMissingValue is returned when a known rule type has no value.
var ErrMissingValue = errors.New("rule value is required")

type compileFunc func(value map[string]any) (Matcher, error)

var compilers = map[string]compileFunc{
	RuleTypeUserIDList:    compileUserIDList,
	RuleTypeAttributeIn:   compileAttributeIn,
	RuleTypePercentage:    compilePercentage,
	RuleTypeEnrolledIn:    compileEnrollment(EnrolledIn),
	RuleTypeNotEnrolledIn: compileEnrollment(NotEnrolledIn),
}

// CompileRules sets the Matcher of every rule of a known type. It stops at
// the first invalid rule; rules of unknown types are left uncompiled.
func CompileRules(rules []Rule) error {
	for i := range rules {
		compile, ok := compilers[rules[i].Type]
		if !ok {
			continue
		}
		if rules[i].Value == nil {
			return fmt.Errorf("rule %s: %w", rules[i].ID, ErrMissingValue)
		}
		m, err := compile(rules[i].Value)
		if err != nil {
			return fmt.Errorf("rule %s: invalid %s: %w", rules[i].ID, rules[i].Type, err)
		}
		rules[i].Matcher = m
	}
	return nil
}

// decode re-encodes a loosely typed YAML or JSON value into dst.
func decode(value map[string]any, dst any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func compileUserIDList(value map[string]any) (Matcher, error) {
	var v struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := decode(value, &v); err != nil {
		return nil, err
	}
	if len(v.UserIDs) > MaxUserIDListSize {
		return nil, fmt.Errorf("%d ids exceeds maximum size %d", len(v.UserIDs), MaxUserIDListSize)
	}
	return UserIDs(v.UserIDs...), nil
}

func compileAttributeIn(value map[string]any) (Matcher, error) {
	var v struct {
		Attribute string   `json:"attribute"`
		Values    []string `json:"values"`
	}
	if err := decode(value, &v); err != nil {
		return nil, err
	}
	if v.Attribute == "" {
		return nil, errors.New("attribute is required")
	}
	return AttributeIn(v.Attribute, v.Values...), nil
}

func compilePercentage(value map[string]any) (Matcher, error) {
	var v struct {
		Percentage int    `json:"percentage"`
		Attribute  string `json:"attribute"`
	}
	if err := decode(value, &v); err != nil {
		return nil, err
	}
	if v.Percentage < 0 || v.Percentage > 100 {
		return nil, fmt.Errorf("percentage %d outside 0-100", v.Percentage)
	}
	return Percentage(v.Percentage, v.Attribute), nil
}

func compileEnrollment(build func(Enrollment) Matcher) compileFunc {
	return func(value map[string]any) (Matcher, error) {
		var sel Enrollment
		if err := decode(value, &sel); err != nil {
			return nil, err
		}
		if len(sel.Slugs) == 0 {
			return nil, errors.New("at least one slug is required")
		}
		return build(sel), nil
	}
}
