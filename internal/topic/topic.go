// Package topic validates topics and subscription patterns and matches
// them against each other.
//
// Topics are dot-separated segments ("agent.lifecycle.started"). Patterns
// may use "*" to match exactly one segment and a trailing "**" to match
// zero or more remaining segments.
package topic

import (
	"strings"

	"github.com/rickgao/eventrouter/internal/model"
)

const (
	Separator      = "."
	SingleWildcard = "*"
	MultiWildcard  = "**"
)

// MaxLength bounds topic and pattern length in bytes.
const MaxLength = 1024

// Split returns the segments of a topic or pattern.
func Split(s string) []string {
	return strings.Split(s, Separator)
}

// ValidateTopic checks that t is a concrete topic: non-empty, no empty
// segments, no wildcard tokens, no whitespace.
func ValidateTopic(t string) error {
	if t == "" {
		return model.Errorf(model.ErrInvalidTopic, "empty topic")
	}
	if len(t) > MaxLength {
		return model.Errorf(model.ErrInvalidTopic, "topic longer than %d bytes", MaxLength)
	}
	for i, seg := range Split(t) {
		if err := checkSegment(seg); err != "" {
			return model.Errorf(model.ErrInvalidTopic, "segment %d of %q: %s", i, t, err)
		}
		if seg == SingleWildcard || seg == MultiWildcard {
			return model.Errorf(model.ErrInvalidTopic, "wildcard %q not allowed in topic %q", seg, t)
		}
	}
	return nil
}

// ValidatePattern checks that p is a well-formed subscription pattern.
// "**" is only valid as the final segment.
func ValidatePattern(p string) error {
	if p == "" {
		return model.Errorf(model.ErrInvalidPattern, "empty pattern")
	}
	if len(p) > MaxLength {
		return model.Errorf(model.ErrInvalidPattern, "pattern longer than %d bytes", MaxLength)
	}
	segs := Split(p)
	for i, seg := range segs {
		if err := checkSegment(seg); err != "" {
			return model.Errorf(model.ErrInvalidPattern, "segment %d of %q: %s", i, p, err)
		}
		if seg == MultiWildcard && i != len(segs)-1 {
			return model.Errorf(model.ErrInvalidPattern, "%q must be the last segment in %q", MultiWildcard, p)
		}
		if seg != SingleWildcard && seg != MultiWildcard && strings.Contains(seg, SingleWildcard) {
			return model.Errorf(model.ErrInvalidPattern, "partial wildcard %q in %q", seg, p)
		}
	}
	return nil
}

func checkSegment(seg string) string {
	if seg == "" {
		return "empty segment"
	}
	for _, r := range seg {
		if r <= ' ' || r == 0x7f {
			return "whitespace or control character"
		}
	}
	return ""
}

// IsWildcard reports whether seg is a wildcard token.
func IsWildcard(seg string) bool {
	return seg == SingleWildcard || seg == MultiWildcard
}

// Matches reports whether topic t matches pattern p. Both are assumed valid.
func Matches(p, t string) bool {
	ps := Split(p)
	ts := Split(t)

	for i, seg := range ps {
		if seg == MultiWildcard {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if seg != SingleWildcard && seg != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}
