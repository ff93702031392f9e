package route

import (
	"fmt"
	"regexp"
)

// Kind is the variant of a Pattern. Its numeric value is the match
// priority: lower wins.
type Kind uint8

// Kind constants, in priority order.
const (
	KindLiteral Kind = iota
	KindRegex
	KindAny
	KindAnyPath
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindRegex:
		return "regex"
	case KindAny:
		return "any"
	case KindAnyPath:
		return "any_path"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Pattern matches one path segment.
type Pattern struct {
	Kind  Kind
	Value string
}

// Literal returns a pattern matching exactly s.
func Literal(s string) Pattern { return Pattern{Kind: KindLiteral, Value: s} }

// Regex returns a pattern matching segments the expression matches in full.
func Regex(expr string) Pattern { return Pattern{Kind: KindRegex, Value: expr} }

// Any returns a pattern matching any single segment.
func Any() Pattern { return Pattern{Kind: KindAny} }

// AnyPath returns a pattern matching the rest of the path.
func AnyPath() Pattern { return Pattern{Kind: KindAnyPath} }

// Priority returns the match rank: 0 literal, 1 regex, 2 any, 3 any path.
func (p Pattern) Priority() int { return int(p.Kind) }

// Matches reports whether segment matches. Regex patterns are compiled on
// every call; an expression that does not compile matches nothing.
func (p Pattern) Matches(segment string) bool {
	switch p.Kind {
	case KindLiteral:
		return p.Value == segment
	case KindRegex:
		re, err := compileSegment(p.Value)
		if err != nil {
			return false
		}
		return re.MatchString(segment)
	case KindAny, KindAnyPath:
		return true
	default:
		return false
	}
}

// Equal reports structural equality.
func (p Pattern) Equal(o Pattern) bool {
	return p.Kind == o.Kind && p.Value == o.Value
}

// String returns a readable form: "Literal: users", "Regex: \d+", "*", "**".
func (p Pattern) String() string {
	switch p.Kind {
	case KindLiteral:
		return "Literal: " + p.Value
	case KindRegex:
		return "Regex: " + p.Value
	case KindAny:
		return "*"
	case KindAnyPath:
		return "**"
	default:
		return p.Kind.String()
	}
}

// compileSegment anchors expr to the whole segment.
func compileSegment(expr string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + expr + `)$`)
}
