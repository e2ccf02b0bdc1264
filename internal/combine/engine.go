package combine

import (
	"errors"
	"fmt"

	"github.com/beevik/etree"

	"github.com/agentic-research/launchpad/internal/locate"
)

// CombinationError reports a structural mismatch while applying a rule.
type CombinationError struct {
	Rule Rule
	Err  error
}

func (e *CombinationError) Error() string {
	return fmt.Sprintf("combine %s: %v", e.Rule, e.Err)
}

func (e *CombinationError) Unwrap() error { return e.Err }

var errNoInsertionPoint = errors.New("no insertion point in generated document")

// Descriptors groups raw rule descriptors by kind, in configuration order.
type Descriptors struct {
	Owned     []string
	Defaulted []string
	Merged    []string
}

// RuleSet holds rules grouped for application. It is immutable once built
// and may be applied to any number of document pairs.
type RuleSet struct {
	owned     []Rule
	defaulted []Rule
	merged    []Rule
}

// NewRuleSet compiles every descriptor. Malformed paths fail here, never
// during Apply.
func NewRuleSet(d Descriptors) (*RuleSet, error) {
	c := locate.NewCompiler()
	rs := &RuleSet{}
	groups := []struct {
		kind  Kind
		descs []string
		dst   *[]Rule
	}{
		{Owned, d.Owned, &rs.owned},
		{Defaulted, d.Defaulted, &rs.defaulted},
		{Merged, d.Merged, &rs.merged},
	}
	for _, g := range groups {
		for _, desc := range g.descs {
			rules, err := ParseDescriptor(c, g.kind, desc)
			if err != nil {
				return nil, fmt.Errorf("%s rules: %w", g.kind, err)
			}
			*g.dst = append(*g.dst, rules...)
		}
	}
	return rs, nil
}

// NewRuleSetFromRules groups already-built rules, keeping their relative order.
func NewRuleSetFromRules(rules ...Rule) *RuleSet {
	rs := &RuleSet{}
	for _, r := range rules {
		switch r.Kind {
		case Owned:
			rs.owned = append(rs.owned, r)
		case Defaulted:
			rs.defaulted = append(rs.defaulted, r)
		case Merged:
			rs.merged = append(rs.merged, r)
		}
	}
	return rs
}

// Rules returns every rule in application order: owned, defaulted, merged.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, 0, len(rs.owned)+len(rs.defaulted)+len(rs.merged))
	out = append(out, rs.owned...)
	out = append(out, rs.defaulted...)
	return append(out, rs.merged...)
}

// Apply mutates generated with content located in developer. All defaulted
// rules run before all merged rules. Rules whose target matches nothing in
// developer leave generated untouched. Rules addressing overlapping
// locations have unspecified results.
func (rs *RuleSet) Apply(developer, generated *etree.Document) error {
	for _, r := range rs.Rules() {
		var err error
		switch r.Kind {
		case Owned:
			// Generated content always stands.
		case Defaulted:
			err = applyDefaulted(r.Expr, developer, generated)
		case Merged:
			err = applyMerged(r.Expr, developer, generated)
		}
		if err != nil {
			return &CombinationError{Rule: r, Err: err}
		}
	}
	return nil
}

// slot is an insertion position: a parent element and a child index.
type slot struct {
	parent *etree.Element
	index  int
}

func (s *slot) insert(el *etree.Element) {
	s.parent.InsertChildAt(s.index, el)
	s.index++
}

func applyDefaulted(expr *locate.Expression, developer, generated *etree.Document) error {
	devNodes := expr.Targets(developer)
	if len(devNodes) == 0 {
		return nil
	}
	genNodes := expr.Targets(generated)

	if expr.IsAttribute() {
		var owner *etree.Element
		if len(genNodes) > 0 {
			owner = genNodes[0].Element
		}
		// Remove before setting, or a later removal would erase the new value.
		for _, key := range attrKeys(genNodes) {
			key.owner.RemoveAttr(key.name)
		}
		return setAttrs(expr, generated, owner, devNodes)
	}

	// The generated nodes are replaced in place: developer content lands in
	// the slot right after the first match's preceding sibling.
	var at *slot
	if len(genNodes) > 0 {
		first := genNodes[0].Element
		if first.Parent() == nil {
			return fmt.Errorf("matched element %q is detached", first.Tag)
		}
		at = &slot{parent: first.Parent(), index: first.Index()}
	}
	for _, n := range genNodes {
		if p := n.Element.Parent(); p != nil {
			p.RemoveChild(n.Element)
		}
	}
	if at == nil {
		var err error
		if at, err = appendSlot(expr, generated); err != nil {
			return err
		}
	}
	for _, n := range devNodes {
		at.insert(n.Element.Copy())
	}
	return nil
}

func applyMerged(expr *locate.Expression, developer, generated *etree.Document) error {
	devNodes := expr.Targets(developer)
	if len(devNodes) == 0 {
		return nil
	}
	genNodes := expr.Targets(generated)

	if expr.IsAttribute() {
		// An element holds one attribute per name, so merging an attribute
		// overwrites the generated value.
		var owner *etree.Element
		if len(genNodes) > 0 {
			owner = genNodes[0].Element
		}
		return setAttrs(expr, generated, owner, devNodes)
	}

	var at *slot
	if len(genNodes) > 0 {
		anchor := genNodes[0].Element
		if anchor.Parent() == nil {
			return fmt.Errorf("matched element %q is detached", anchor.Tag)
		}
		at = &slot{parent: anchor.Parent(), index: anchor.Index()}
	} else {
		var err error
		if at, err = appendSlot(expr, generated); err != nil {
			return err
		}
	}
	for _, n := range devNodes {
		at.insert(n.Element.Copy())
	}
	return nil
}

// appendSlot positions after the last child of the parent locator's element.
func appendSlot(expr *locate.Expression, generated *etree.Document) (*slot, error) {
	parent, err := expr.Parent(generated)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("%w: parent %q not found", errNoInsertionPoint, expr.ParentPath())
	}
	return &slot{parent: parent, index: len(parent.Child)}, nil
}

// setAttrs copies developer attributes onto owner, falling back to the
// target's owner element and then to the parent locator's element.
func setAttrs(expr *locate.Expression, generated *etree.Document, owner *etree.Element, devNodes []locate.Node) error {
	if owner == nil {
		if owners := expr.Owners(generated); len(owners) > 0 {
			owner = owners[0]
		}
	}
	if owner == nil {
		parent, err := expr.Parent(generated)
		if err != nil {
			return err
		}
		if parent == nil {
			return fmt.Errorf("%w: no owner for attribute %q", errNoInsertionPoint, expr.Attribute())
		}
		owner = parent
	}
	for _, n := range devNodes {
		owner.CreateAttr(n.Attr.FullKey(), n.Attr.Value)
	}
	return nil
}

type attrKey struct {
	owner *etree.Element
	name  string
}

// attrKeys snapshots attribute identities; removing an attribute shifts the
// owner's Attr slice and invalidates the pointers held by the nodes.
func attrKeys(nodes []locate.Node) []attrKey {
	keys := make([]attrKey, 0, len(nodes))
	for _, n := range nodes {
		keys = append(keys, attrKey{owner: n.Element, name: n.Attr.FullKey()})
	}
	return keys
}
