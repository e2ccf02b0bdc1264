// Package synth builds the content set for deployed units: launch documents
// combined from templates and developer overrides, plus the signed
// artifacts they reference. It also drives each unit's lifecycle.
package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/beevik/etree"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"github.com/agentic-research/launchpad/api"
	"github.com/agentic-research/launchpad/internal/combine"
	"github.com/agentic-research/launchpad/internal/content"
	"github.com/agentic-research/launchpad/internal/lifecycle"
	"github.com/agentic-research/launchpad/internal/metrics"
	"github.com/agentic-research/launchpad/internal/naming"
	"github.com/agentic-research/launchpad/internal/repository"
	"github.com/agentic-research/launchpad/internal/signing"
	"github.com/agentic-research/launchpad/internal/templates"
)

// Unit-relative URIs of the generated documents.
const (
	MainURI   = "main.jnlp"
	ClientURI = "client.jnlp"
)

// requestPrefix names the tokens a RequestContext supplies at serve time.
const requestPrefix = "request."

// ErrExtensionCycle marks a developer extension that refers back to a
// document already being processed.
var ErrExtensionCycle = errors.New("extension cycle")

// MissingResourceWarning reports a developer-referenced resource that could
// not be read. The resource is skipped; synthesis continues.
type MissingResourceWarning struct {
	Unit string
	URI  string
	Path string
	Err  error
}

func (w *MissingResourceWarning) Error() string {
	return fmt.Sprintf("unit %s: resource %s (%s) skipped: %v", w.Unit, w.URI, w.Path, w.Err)
}

func (w *MissingResourceWarning) Unwrap() error { return w.Err }

// Orchestrator synthesizes units. Its fields are shared by every unit and
// must not change once synthesis has started.
type Orchestrator struct {
	Rules     *combine.RuleSet
	Templates *templates.Store
	// Artifacts holds server-provided jars and the signing output.
	Artifacts billy.Filesystem
	// Developer holds developer override documents and the resources they
	// reference. Nil means units carry no developer content.
	Developer billy.Filesystem
	// Signing is the shared signing cache. Nil serves artifacts unsigned.
	Signing      *signing.Cache
	DefaultAlias string
	Repo         *repository.Repository
	Logger       *zap.Logger
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Synthesize builds, registers and (unless the unit is disabled) starts
// the content set for u.
//
// Missing templates, unparsable documents, combination errors and key
// conflicts are fatal: nothing is registered and the returned Unit is nil.
// Signing failures are not: the affected artifacts are skipped, the rest
// of the unit is registered and started, and the joined SigningErrors are
// returned alongside the Unit.
func (o *Orchestrator) Synthesize(ctx context.Context, u api.Unit) (*Unit, error) {
	start := time.Now()
	defer func() { metrics.SynthesisDuration.Observe(time.Since(start).Seconds()) }()

	if u.Name == "" {
		return nil, fmt.Errorf("unit has no name")
	}
	name := naming.UnitName(u.Name, u.Module)
	root := u.ContextRoot
	if root == "" {
		root = naming.ContextRoot(u.Name, u.Module)
	}
	root = naming.CleanContextRoot(root)

	b := &build{
		o:     o,
		ctx:   ctx,
		unit:  name,
		alias: o.alias(u.SigningAlias),
		log:   o.logger().With(zap.String("unit", name)),
		items: make(map[string]content.Item),
	}

	mainURI := b.artifact(u.MainJar)
	facadeURI := b.artifact(u.FacadeJar)
	if facadeURI == "" {
		facadeURI = mainURI
	}
	var nested strings.Builder
	for _, p := range u.NestedFacades {
		if uri := b.artifact(p); uri != "" {
			nested.WriteString("\n    <jar href=\"" + escape(uri) + "\"/>")
		}
	}

	title := u.Title
	if title == "" {
		title = u.Name
	}
	b.tokens = make(map[string]string, len(u.Properties)+8)
	for k, v := range u.Properties {
		b.tokens[k] = escape(v)
	}
	for k, v := range map[string]string{
		"title":      title,
		"vendor":     u.Vendor,
		"app.name":   u.Name,
		"main.class": u.MainClass,
		"main.jar":   mainURI,
		"facade.jar": facadeURI,
	} {
		b.tokens[k] = escape(v)
	}
	b.tokens["nested.jars"] = nested.String()

	var dev *etree.Document
	if u.DeveloperDocument != "" {
		var err error
		if dev, err = b.developerDocument(u.DeveloperDocument, MainURI); err != nil {
			return nil, err
		}
	}

	mainDoc, err := b.generate(templates.Main, b.tokens, dev)
	if err != nil {
		return nil, err
	}
	clientDoc, err := b.generate(templates.Client, b.tokens, dev)
	if err != nil {
		return nil, err
	}
	main := content.NewDynamic(mainDoc, content.MIMELaunchDocument, true)
	b.items[MainURI] = main
	b.items[""] = main
	b.items[ClientURI] = content.NewDynamic(clientDoc, content.MIMELaunchDocument, false)

	if dev != nil {
		onPath := map[string]bool{cleanFile(u.DeveloperDocument): true}
		if err := b.developerContent(dev, u.DeveloperDocument, MainURI, onPath); err != nil {
			return nil, err
		}
	}

	unit := &Unit{
		Name:        name,
		ContextRoot: root,
		repo:        o.Repo,
		machine:     lifecycle.New(),
		items:       make(map[string]content.Item, len(b.items)),
		warnings:    b.warnings,
		enabled:     !u.Disabled,
		logger:      b.log,
	}
	for rel, item := range b.items {
		unit.items[naming.Key(root, rel)] = item
	}
	if err := unit.register(); err != nil {
		return nil, err
	}

	if !u.Disabled {
		if err := unit.Start(); err != nil {
			unit.unregister()
			return nil, err
		}
	}
	b.log.Info("Synthesized unit",
		zap.String("context_root", root),
		zap.Int("items", len(unit.items)),
		zap.Int("warnings", len(b.warnings)),
		zap.Duration("elapsed", time.Since(start)))
	return unit, errors.Join(b.signErrs...)
}

func (o *Orchestrator) alias(unitAlias string) string {
	switch {
	case unitAlias != "":
		return unitAlias
	case o.DefaultAlias != "":
		return o.DefaultAlias
	default:
		return naming.DefaultAlias
	}
}

// build is the working state of one Synthesize call. Items are collected
// here and only registered once the whole set is known.
type build struct {
	o      *Orchestrator
	ctx    context.Context
	unit   string
	alias  string
	log    *zap.Logger
	tokens map[string]string

	items    map[string]content.Item // unit-relative URI -> item
	warnings []error
	signErrs []error
	done     map[string]bool // developer documents already expanded
}

func (b *build) warn(w error, fields ...zap.Field) {
	b.warnings = append(b.warnings, w)
	b.log.Warn(w.Error(), fields...)
}

// artifact adds a server-provided jar, signed when a signing cache is
// configured, and returns its unit-relative URI.
func (b *build) artifact(p string) string {
	if p == "" {
		return ""
	}
	if b.o.Signing == nil {
		uri := naming.StaticURI(p)
		if _, err := b.o.Artifacts.Stat(p); err != nil {
			b.warn(&MissingResourceWarning{Unit: b.unit, URI: uri, Path: p, Err: err},
				zap.String("uri", uri), zap.String("path", p))
			return uri
		}
		b.items[uri] = content.NewStatic(b.o.Artifacts, p, "", false)
		return uri
	}

	uri := naming.SignedArtifactURI(b.alias, p)
	signed, err := b.o.Signing.SignedPathFor(b.ctx, p, b.alias)
	if err != nil {
		b.signErrs = append(b.signErrs, err)
		b.log.Error("Signing failed; artifact not served",
			zap.String("uri", uri), zap.String("path", p), zap.Error(err))
		return uri
	}
	b.items[uri] = content.NewStatic(b.o.Artifacts, signed, "", true)
	return uri
}

// generate renders a template, combines dev into it and serializes it.
func (b *build) generate(name string, tokens map[string]string, dev *etree.Document) (string, error) {
	text, err := b.o.Templates.Render(name, tokens)
	if err != nil {
		return "", err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromString(text); err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	if dev != nil && b.o.Rules != nil {
		if err := b.o.Rules.Apply(dev, doc); err != nil {
			return "", fmt.Errorf("unit %s, %s: %w", b.unit, name, err)
		}
	}
	out, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("serialize %s: %w", name, err)
	}
	return out, nil
}

// developerDocument reads and parses a developer document. A missing
// top-level document is a warning and yields nil.
func (b *build) developerDocument(p, uri string) (*etree.Document, error) {
	if b.o.Developer == nil {
		b.warn(&MissingResourceWarning{Unit: b.unit, URI: uri, Path: p, Err: os.ErrNotExist},
			zap.String("uri", uri), zap.String("path", p))
		return nil, nil
	}
	data, err := util.ReadFile(b.o.Developer, p)
	if err != nil {
		b.warn(&MissingResourceWarning{Unit: b.unit, URI: uri, Path: p, Err: err},
			zap.String("uri", uri), zap.String("path", p))
		return nil, nil
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse developer document %s: %w", p, err)
	}
	escapeDollars(&doc.Element)
	return doc, nil
}

// escapeDollars doubles "$" in every attribute value and text node under
// el, so developer content survives the per-request Expand unchanged.
// ${request.*} placeholders are kept live.
func escapeDollars(el *etree.Element) {
	for i := range el.Attr {
		el.Attr[i].Value = escapeDeveloper(el.Attr[i].Value)
	}
	for _, t := range el.Child {
		switch t := t.(type) {
		case *etree.Element:
			escapeDollars(t)
		case *etree.CharData:
			t.Data = escapeDeveloper(t.Data)
		}
	}
}

func escapeDeveloper(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return strings.ReplaceAll(content.EscapeDollar(s), "$${"+requestPrefix, "${"+requestPrefix)
}

// developerContent registers the resources dev references and expands its
// extensions depth first. docPath is dev's location in the developer
// filesystem and docURI its unit-relative URI; relative hrefs resolve
// against both.
func (b *build) developerContent(dev *etree.Document, docPath, docURI string, onPath map[string]bool) error {
	if b.done == nil {
		b.done = make(map[string]bool)
	}
	b.done[cleanFile(docPath)] = true

	for _, href := range hrefs(dev, "//jar[@href]", "//nativelib[@href]", "//icon[@href]") {
		uri, p, ok := b.resolve(href, docPath, docURI)
		if !ok {
			continue
		}
		if _, taken := b.items[uri]; taken {
			continue
		}
		if _, err := b.o.Developer.Stat(p); err != nil {
			b.warn(&MissingResourceWarning{Unit: b.unit, URI: uri, Path: p, Err: err},
				zap.String("uri", uri), zap.String("path", p))
			continue
		}
		b.items[uri] = content.NewStatic(b.o.Developer, p, "", false)
	}

	for _, href := range hrefs(dev, "//extension[@href]") {
		uri, p, ok := b.resolve(href, docPath, docURI)
		if !ok {
			continue
		}
		key := cleanFile(p)
		if onPath[key] {
			b.warn(fmt.Errorf("unit %s: %w: %s refers back to %s", b.unit, ErrExtensionCycle, docPath, p),
				zap.String("uri", uri), zap.String("path", p))
			continue
		}
		if b.done[key] {
			continue
		}
		if _, taken := b.items[uri]; taken {
			b.log.Debug("Extension URI already served", zap.String("uri", uri))
			continue
		}

		ext, err := b.developerDocument(p, uri)
		if err != nil {
			return err
		}
		if ext == nil {
			continue
		}
		tokens := make(map[string]string, len(b.tokens)+1)
		for k, v := range b.tokens {
			tokens[k] = v
		}
		tokens["extension.href"] = escape(uri)
		text, err := b.generate(templates.Extension, tokens, ext)
		if err != nil {
			return err
		}
		b.items[uri] = content.NewDynamic(text, content.MIMELaunchDocument, false)

		onPath[key] = true
		err = b.developerContent(ext, p, uri, onPath)
		delete(onPath, key)
		if err != nil {
			return err
		}
	}
	return nil
}

// resolve maps an href found in a document to a unit-relative URI and a
// developer filesystem path. Absolute and escaping hrefs are ignored.
func (b *build) resolve(href, docPath, docURI string) (uri, p string, ok bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") || strings.Contains(href, "://") {
		return "", "", false
	}
	uri = path.Join(path.Dir(docURI), href)
	if uri == ".." || strings.HasPrefix(uri, "../") {
		b.log.Debug("Ignoring href outside the context root", zap.String("href", href))
		return "", "", false
	}
	return uri, path.Join(path.Dir(docPath), href), true
}

// hrefs collects href attribute values, de-duplicated, in query order.
// Values are read back from their escaped form.
func hrefs(doc *etree.Document, queries ...string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range queries {
		for _, el := range doc.FindElements(q) {
			h := strings.ReplaceAll(el.SelectAttrValue("href", ""), "$$", "$")
			if h != "" && !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out
}

func cleanFile(p string) string { return path.Clean("/" + p) }

// escape prepares a synthesis-time value for a template: XML-escaped, and
// with "$" doubled so the per-request pass serves it verbatim.
func escape(s string) string {
	return content.EscapeDollar(content.EscapeXML(s))
}

// sortedKeys returns the keys of m in order.
func sortedKeys(m map[string]content.Item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
