package route

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRoute is wrapped by every Parse error.
var ErrInvalidRoute = errors.New("invalid route")

var typeExprs = map[string]string{
	"int":     `-?\d+`,
	"uint":    `\d+`,
	"decimal": `-?\d+(?:\.\d+)?`,
	"uuid":    `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`,
}

const anySegmentExpr = `[^/]+`

// group is one <...> section of a segment.
type group struct {
	kind Kind
	expr string
	name string
}

// Parse splits route into one pattern per non-empty segment. names has the
// same length as patterns and holds "" for segments that capture nothing.
func Parse(route string) ([]Pattern, []string, error) {
	var patterns []Pattern
	var names []string

	segments := strings.Split(route, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		p, name, err := parseSegment(seg)
		if err != nil {
			return nil, nil, fmt.Errorf("%w %q: segment %q: %w", ErrInvalidRoute, route, seg, err)
		}
		if p.Kind == KindAnyPath && hasMore(segments[i+1:]) {
			return nil, nil, fmt.Errorf("%w %q: catch-all must be the last segment", ErrInvalidRoute, route)
		}
		patterns = append(patterns, p)
		names = append(names, name)
	}
	return patterns, names, nil
}

// MustParse is like Parse but panics on error.
func MustParse(route string) ([]Pattern, []string) {
	p, n, err := Parse(route)
	if err != nil {
		panic(err)
	}
	return p, n
}

func hasMore(rest []string) bool {
	for _, s := range rest {
		if s != "" {
			return true
		}
	}
	return false
}

func parseSegment(seg string) (Pattern, string, error) {
	if !strings.ContainsAny(seg, "<>") {
		return Literal(seg), "", nil
	}

	// A segment that is exactly one group keeps the group's own kind.
	if strings.HasPrefix(seg, "<") && closingIndex(seg, 0) == len(seg)-1 {
		g, err := parseGroup(seg[1 : len(seg)-1])
		if err != nil {
			return Pattern{}, "", err
		}
		switch g.kind {
		case KindAny:
			return Any(), g.name, nil
		case KindAnyPath:
			return AnyPath(), g.name, nil
		default:
			return Regex(g.expr), g.name, nil
		}
	}

	var sb strings.Builder
	rest := seg
	for rest != "" {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			if strings.ContainsRune(rest, '>') {
				return Pattern{}, "", errors.New("unexpected '>'")
			}
			sb.WriteString(regexp.QuoteMeta(rest))
			break
		}
		if strings.ContainsRune(rest[:open], '>') {
			return Pattern{}, "", errors.New("unexpected '>'")
		}
		sb.WriteString(regexp.QuoteMeta(rest[:open]))

		end := closingIndex(rest, open)
		if end < 0 {
			return Pattern{}, "", errors.New("unclosed '<'")
		}
		g, err := parseGroup(rest[open+1 : end])
		if err != nil {
			return Pattern{}, "", err
		}
		if g.kind == KindAnyPath {
			return Pattern{}, "", errors.New("catch-all must fill its segment")
		}
		expr := g.expr
		if g.kind == KindAny {
			expr = anySegmentExpr
		}
		if g.name != "" {
			fmt.Fprintf(&sb, "(?P<%s>%s)", g.name, expr)
		} else {
			fmt.Fprintf(&sb, "(?:%s)", expr)
		}
		rest = rest[end+1:]
	}
	return Regex(sb.String()), "", nil
}

// closingIndex returns the index of the '>' closing the group opened at
// open, skipping over ||regex|| bodies. It returns -1 when unclosed.
func closingIndex(s string, open int) int {
	i := open + 1
	if strings.HasPrefix(s[i:], "||") {
		end := strings.Index(s[i+2:], "||")
		if end < 0 {
			return -1
		}
		i += 2 + end + 2
	}
	j := strings.IndexByte(s[i:], '>')
	if j < 0 {
		return -1
	}
	return i + j
}

func parseGroup(body string) (group, error) {
	if body == "" {
		return group{}, errors.New("empty group")
	}

	if rest, ok := strings.CutPrefix(body, "**"); ok {
		name := strings.TrimPrefix(rest, ":")
		if err := checkName(name, rest != name); err != nil {
			return group{}, err
		}
		return group{kind: KindAnyPath, name: name}, nil
	}

	if rest, ok := strings.CutPrefix(body, "||"); ok {
		end := strings.Index(rest, "||")
		if end < 0 {
			return group{}, errors.New("unclosed regex")
		}
		expr := rest[:end]
		if _, err := compileSegment(expr); err != nil {
			return group{}, fmt.Errorf("bad regex: %w", err)
		}
		tail := rest[end+2:]
		name := strings.TrimPrefix(tail, ":")
		if tail != "" && tail == name {
			return group{}, fmt.Errorf("unexpected %q after regex", tail)
		}
		if err := checkName(name, tail != ""); err != nil {
			return group{}, err
		}
		return group{kind: KindRegex, expr: expr, name: name}, nil
	}

	typ, name, hasColon := strings.Cut(body, ":")
	if !hasColon {
		if expr, ok := typeExprs[body]; ok {
			return group{kind: KindRegex, expr: expr}, nil
		}
		if body == "str" {
			return group{kind: KindAny}, nil
		}
		if err := checkName(body, true); err != nil {
			return group{}, err
		}
		return group{kind: KindAny, name: body}, nil
	}

	if err := checkName(name, true); err != nil {
		return group{}, err
	}
	if typ == "str" {
		return group{kind: KindAny, name: name}, nil
	}
	expr, ok := typeExprs[typ]
	if !ok {
		return group{}, fmt.Errorf("unknown type %q", typ)
	}
	return group{kind: KindRegex, expr: expr, name: name}, nil
}

func checkName(name string, required bool) error {
	if name == "" {
		if required {
			return errors.New("empty name")
		}
		return nil
	}
	for _, r := range name {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("invalid name %q", name)
		}
	}
	return nil
}
