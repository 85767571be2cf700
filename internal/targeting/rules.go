package targeting

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Matcher is a compiled rule. Implementations are safe for concurrent use.
type Matcher interface {
	Match(in EvaluationInput) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(in EvaluationInput) bool

func (f MatcherFunc) Match(in EvaluationInput) bool { return f(in) }

func set(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// UserIDs matches clients whose UserID is listed. Comparison is exact and an
// anonymous client never matches.
func UserIDs(ids ...string) Matcher {
	allowed := set(ids)
	return MatcherFunc(func(in EvaluationInput) bool {
		if in.Client.UserID == "" {
			return false
		}
		_, ok := allowed[in.Client.UserID]
		return ok
	})
}

// AttributeIn matches clients whose attribute holds one of values. A missing
// attribute never matches.
func AttributeIn(attribute string, values ...string) Matcher {
	allowed := set(values)
	return MatcherFunc(func(in EvaluationInput) bool {
		v, ok := in.Client.Attributes[attribute]
		if !ok {
			return false
		}
		_, ok = allowed[v]
		return ok
	})
}

// Bucket places subject into one of 100 buckets, salted by slug.
func Bucket(subject, slug string) int {
	return int(murmur3.Sum32([]byte(fmt.Sprintf("%s:%s", subject, slug))) % 100)
}

// Percentage admits pct percent of clients. The hash subject is the user id
// unless by names "group_id" or a client attribute. An empty subject never
// matches.
func Percentage(pct int, by string) Matcher {
	return MatcherFunc(func(in EvaluationInput) bool {
		var subject string
		switch by {
		case "", "user_id":
			subject = in.Client.UserID
		case "group_id":
			subject = in.Client.GroupID
		default:
			subject = in.Client.Attributes[by]
		}
		if subject == "" {
			return false
		}
		return Bucket(subject, in.Slug) < pct
	})
}

// Enrollment selects the enrollments ENROLLED_IN and NOT_ENROLLED_IN look at.
type Enrollment struct {
	Slugs []string `json:"slugs"`

	// Branch restricts the match to one branch slug.
	Branch string `json:"branch"`

	// IncludePrevious also counts inactive enrollments.
	IncludePrevious bool `json:"include_previous"`
}

// EnrolledIn matches when the client is enrolled in any of the slugs.
func EnrolledIn(sel Enrollment) Matcher {
	return MatcherFunc(func(in EvaluationInput) bool {
		return sel.any(in.Client)
	})
}

// NotEnrolledIn matches when the client is enrolled in none of the slugs.
func NotEnrolledIn(sel Enrollment) Matcher {
	return MatcherFunc(func(in EvaluationInput) bool {
		return !sel.any(in.Client)
	})
}

func (sel Enrollment) any(c Context) bool {
	for _, slug := range sel.Slugs {
		branch, known := c.Enrollments[slug]
		if !known {
			continue
		}
		if !c.IsActive(slug) && !(sel.IncludePrevious && c.WasEnrolled(slug)) {
			continue
		}
		if sel.Branch == "" || sel.Branch == branch {
			return true
		}
	}
	return false
}
