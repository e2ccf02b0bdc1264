// Package combine merges a developer-supplied launch document into a
// generated one according to configured combination rules.
package combine

import (
	"fmt"
	"strings"

	"github.com/agentic-research/launchpad/internal/locate"
)

// Kind selects the combination semantics of a Rule.
type Kind int

const (
	// Owned locations always keep the generated content.
	Owned Kind = iota
	// Defaulted locations take the developer's content when present,
	// replacing the generated nodes.
	Defaulted
	// Merged locations receive the developer's content in addition to the
	// generated nodes.
	Merged
)

func (k Kind) String() string {
	switch k {
	case Owned:
		return "owned"
	case Defaulted:
		return "defaulted"
	case Merged:
		return "merged"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configuration group name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owned":
		return Owned, nil
	case "defaulted":
		return Defaulted, nil
	case "merged":
		return Merged, nil
	}
	return 0, fmt.Errorf("unknown combination kind %q", s)
}

// Rule pairs a location with combination semantics.
type Rule struct {
	Kind Kind
	Expr *locate.Expression
}

func (r Rule) String() string {
	return r.Kind.String() + " " + r.Expr.String()
}

// ParseDescriptor parses a comma-separated list of "parentPath:relativePath"
// pairs into rules of the given kind. The relative path starts at the first
// ":/" or ":@" so that namespace prefixes in the parent path survive.
func ParseDescriptor(c *locate.Compiler, kind Kind, descriptor string) ([]Rule, error) {
	if c == nil {
		c = locate.NewCompiler()
	}
	var rules []Rule
	for _, pair := range strings.Split(descriptor, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parent, relative, ok := splitPair(pair)
		if !ok {
			return nil, &locate.InvalidPathError{
				Path: pair,
				Err:  fmt.Errorf("expected parentPath:relativePath"),
			}
		}
		expr, err := c.Compile(parent, relative)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Rule{Kind: kind, Expr: expr})
	}
	return rules, nil
}

func splitPair(pair string) (parent, relative string, ok bool) {
	for i := 0; i < len(pair)-1; i++ {
		if pair[i] == ':' && (pair[i+1] == '/' || pair[i+1] == '@') {
			return pair[:i], pair[i+1:], i > 0
		}
	}
	return "", "", false
}
