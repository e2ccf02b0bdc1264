// Package locate compiles location expressions: a parent path plus a
// relative suffix, evaluated against etree documents.
//
// A parent path like "/jnlp/resources" combined with the suffix "/jar"
// addresses every jar element under resources. A suffix whose last step is
// "@name" addresses an attribute instead, e.g. "/jnlp" + "/@spec".
package locate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/beevik/etree"
)

// InvalidPathError reports a path that does not compile.
type InvalidPathError struct {
	Path string
	Err  error
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("invalid location path %q: %v", e.Path, e.Err)
}

func (e *InvalidPathError) Unwrap() error { return e.Err }

// Node is one location match. Attr is nil for element matches; for
// attribute matches Element is the attribute's owner.
type Node struct {
	Element *etree.Element
	Attr    *etree.Attr
}

// IsAttr reports whether the node is an attribute.
func (n Node) IsAttr() bool { return n.Attr != nil }

// Expression is a compiled (parent, target) locator pair.
// Expressions are immutable and safe for concurrent use.
type Expression struct {
	parentPath string
	targetPath string

	parent etree.Path
	// target addresses elements; for attribute targets it addresses the owners.
	target etree.Path
	attr   string
}

// Compile builds an Expression from a parent path and a suffix relative to it.
func Compile(parentPath, relative string) (*Expression, error) {
	parentPath = strings.TrimSpace(parentPath)
	relative = strings.TrimSpace(relative)
	if parentPath == "" {
		return nil, &InvalidPathError{Path: parentPath, Err: fmt.Errorf("empty parent path")}
	}
	if relative == "" {
		return nil, &InvalidPathError{Path: parentPath, Err: fmt.Errorf("empty relative path")}
	}

	parent, err := etree.CompilePath(parentPath)
	if err != nil {
		return nil, &InvalidPathError{Path: parentPath, Err: err}
	}

	targetPath := joinPath(parentPath, relative)
	elemPath, attr := splitAttr(targetPath)
	if attr == "@" {
		return nil, &InvalidPathError{Path: targetPath, Err: fmt.Errorf("empty attribute name")}
	}
	if elemPath == "" {
		return nil, &InvalidPathError{Path: targetPath, Err: fmt.Errorf("attribute without owner element")}
	}
	target, err := etree.CompilePath(elemPath)
	if err != nil {
		return nil, &InvalidPathError{Path: targetPath, Err: err}
	}

	return &Expression{
		parentPath: parentPath,
		targetPath: targetPath,
		parent:     parent,
		target:     target,
		attr:       strings.TrimPrefix(attr, "@"),
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(parentPath, relative string) *Expression {
	e, err := Compile(parentPath, relative)
	if err != nil {
		panic(err)
	}
	return e
}

func joinPath(parent, relative string) string {
	if strings.HasPrefix(relative, "/") {
		return strings.TrimSuffix(parent, "/") + relative
	}
	return strings.TrimSuffix(parent, "/") + "/" + relative
}

// splitAttr separates a trailing "/@name" step. attr keeps the "@" so an
// empty name can be told apart from no attribute at all.
func splitAttr(p string) (elemPath, attr string) {
	i := strings.LastIndex(p, "/")
	if i < 0 || !strings.HasPrefix(p[i+1:], "@") {
		return p, ""
	}
	return p[:i], p[i+1:]
}

// ParentPath returns the parent path as written.
func (e *Expression) ParentPath() string { return e.parentPath }

// TargetPath returns the full target path.
func (e *Expression) TargetPath() string { return e.targetPath }

// IsAttribute reports whether the target addresses an attribute.
func (e *Expression) IsAttribute() bool { return e.attr != "" }

// Attribute returns the target attribute name, or "" for element targets.
func (e *Expression) Attribute() string { return e.attr }

func (e *Expression) String() string {
	return e.parentPath + ":" + strings.TrimPrefix(e.targetPath, strings.TrimSuffix(e.parentPath, "/"))
}

// Parent resolves the parent locator. It returns nil when nothing matches and
// an error when more than one element matches.
func (e *Expression) Parent(doc *etree.Document) (*etree.Element, error) {
	matches := doc.FindElementsPath(e.parent)
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("parent path %q matched %d elements", e.parentPath, len(matches))
	}
}

// Owners returns the elements addressed by the target path with any
// attribute step removed. For element targets it equals the target elements.
func (e *Expression) Owners(doc *etree.Document) []*etree.Element {
	return doc.FindElementsPath(e.target)
}

// Targets evaluates the target locator in document order.
func (e *Expression) Targets(doc *etree.Document) []Node {
	elems := doc.FindElementsPath(e.target)
	nodes := make([]Node, 0, len(elems))
	for _, el := range elems {
		if e.attr == "" {
			nodes = append(nodes, Node{Element: el})
			continue
		}
		if a := el.SelectAttr(e.attr); a != nil {
			nodes = append(nodes, Node{Element: el, Attr: a})
		}
	}
	return nodes
}

// Compiler memoises compiled expressions. Paths come from static
// configuration, so the cache is never evicted.
type Compiler struct {
	mu    sync.Mutex
	cache map[[2]string]*Expression
}

func NewCompiler() *Compiler {
	return &Compiler{cache: make(map[[2]string]*Expression)}
}

// Compile returns the cached expression for the pair, compiling it on first use.
func (c *Compiler) Compile(parentPath, relative string) (*Expression, error) {
	key := [2]string{parentPath, relative}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.cache[key]; ok {
		return e, nil
	}
	e, err := Compile(parentPath, relative)
	if err != nil {
		return nil, err
	}
	c.cache[key] = e
	return e, nil
}
