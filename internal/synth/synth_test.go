package synth

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/beevik/etree"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/agentic-research/launchpad/api"
	"github.com/agentic-research/launchpad/internal/combine"
	"github.com/agentic-research/launchpad/internal/content"
	"github.com/agentic-research/launchpad/internal/lifecycle"
	"github.com/agentic-research/launchpad/internal/naming"
	"github.com/agentic-research/launchpad/internal/repository"
	"github.com/agentic-research/launchpad/internal/signing"
	"github.com/agentic-research/launchpad/internal/templates"
)

const devMain = `<jnlp>
  <information>
    <title>Dev Shop</title>
    <icon href="img/missing.png"/>
  </information>
  <resources>
    <jar href="lib/extra.jar"/>
    <property name="b" value="2"/>
    <extension href="ext/a.jnlp"/>
  </resources>
</jnlp>`

type fixture struct {
	artifacts billy.Filesystem
	developer billy.Filesystem
	repo      *repository.Repository
	logs      *observer.ObservedLogs
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	artifacts := memfs.New()
	developer := memfs.New()
	write(t, artifacts, "lib/app.jar", "PK-app")
	write(t, artifacts, "lib/appFacade.jar", "PK-facade")
	write(t, developer, "dev/app.jnlp", devMain)
	write(t, developer, "dev/lib/extra.jar", "PK-extra")
	write(t, developer, "dev/ext/a.jnlp", `<jnlp><resources><jar href="a.jar"/><extension href="b.jnlp"/></resources></jnlp>`)
	write(t, developer, "dev/ext/a.jar", "PK-a")
	write(t, developer, "dev/ext/b.jnlp", `<jnlp><resources><extension href="a.jnlp"/></resources></jnlp>`)

	rules, err := combine.NewRuleSet(combine.Descriptors{
		Owned:     []string{"/jnlp:/@spec"},
		Defaulted: []string{"/jnlp/information:/title,/jnlp/information:/icon"},
		Merged:    []string{"/jnlp/resources:/jar,/jnlp/resources:/property,/jnlp/resources:/extension"},
	})
	require.NoError(t, err)

	core, logs := observer.New(zap.WarnLevel)
	repo := repository.New()
	return &fixture{
		artifacts: artifacts,
		developer: developer,
		repo:      repo,
		logs:      logs,
		orch: &Orchestrator{
			Rules:     rules,
			Templates: templates.New(nil),
			Artifacts: artifacts,
			Developer: developer,
			Repo:      repo,
			Logger:    zap.New(core),
		},
	}
}

func write(t *testing.T, fs billy.Filesystem, p, body string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, p, []byte(body), 0o644))
}

func shopUnit() api.Unit {
	return api.Unit{
		Name:      "shop",
		Title:     "Shop & Co",
		Vendor:    "Acme",
		MainClass: "com.acme.Main",
		MainJar:   "lib/app.jar",
		FacadeJar: "lib/appFacade.jar",
	}
}

func render(t *testing.T, it content.Item) string {
	t.Helper()
	data, err := it.Render(content.RequestContext{Codebase: "http://h/shop-client"})
	require.NoError(t, err)
	return string(data)
}

func TestSynthesize_WithoutDeveloperDocument(t *testing.T) {
	f := newFixture(t)
	unit, err := f.orch.Synthesize(context.Background(), shopUnit())
	require.NoError(t, err)

	assert.Equal(t, "/shop-client", unit.ContextRoot)
	assert.Equal(t, lifecycle.Running, unit.State())
	assert.Equal(t, []string{
		"/shop-client",
		"/shop-client/client.jnlp",
		"/shop-client/lib/app.jar",
		"/shop-client/lib/appFacade.jar",
		"/shop-client/main.jnlp",
	}, f.repo.Keys())

	bare, err := f.repo.Lookup("/shop-client")
	require.NoError(t, err)
	main, err := f.repo.Lookup("/shop-client/main.jnlp")
	require.NoError(t, err)
	assert.Same(t, main, bare)
	assert.Same(t, unit.Main(), main)

	text := render(t, main)
	assert.Contains(t, text, "<title>Shop &amp; Co</title>")
	assert.Contains(t, text, `codebase="http://h/shop-client"`)
	assert.Contains(t, text, `<jar href="lib/appFacade.jar" main="true"/>`)
	assert.Contains(t, text, `main-class="com.acme.Main"`)

	client, err := f.repo.Lookup("/shop-client/client.jnlp")
	require.NoError(t, err)
	assert.Contains(t, render(t, client), `<jar href="lib/app.jar"/>`)
	assert.True(t, client.Servable())
	assert.Empty(t, unit.Warnings())
}

func TestSynthesize_DeveloperDocumentAndExtensions(t *testing.T) {
	f := newFixture(t)
	u := shopUnit()
	u.DeveloperDocument = "dev/app.jnlp"

	unit, err := f.orch.Synthesize(context.Background(), u)
	require.NoError(t, err)

	for _, k := range []string{
		"/shop-client/lib/extra.jar",
		"/shop-client/ext/a.jnlp",
		"/shop-client/ext/a.jar",
		"/shop-client/ext/b.jnlp",
	} {
		assert.Contains(t, unit.Keys(), k)
	}
	assert.NotContains(t, unit.Keys(), "/shop-client/img/missing.png")

	text := render(t, unit.Main())
	assert.Contains(t, text, "<title>Dev Shop</title>")
	assert.NotContains(t, text, "Shop &amp; Co</title>")
	assert.Contains(t, text, `<property name="b" value="2"/>`)
	assert.Contains(t, text, `<extension href="ext/a.jnlp"/>`)
	assert.Contains(t, text, `<jar href="lib/extra.jar"/>`)

	ext, err := f.repo.Lookup("/shop-client/ext/a.jnlp")
	require.NoError(t, err)
	extText := render(t, ext)
	assert.Contains(t, extText, `href="ext/a.jnlp"`)
	assert.Contains(t, extText, `<jar href="a.jar"/>`)

	var missing *MissingResourceWarning
	var cycles int
	for _, w := range unit.Warnings() {
		if errors.As(w, &missing) {
			assert.Equal(t, "img/missing.png", missing.URI)
		}
		if errors.Is(w, ErrExtensionCycle) {
			cycles++
		}
	}
	require.NotNil(t, missing)
	assert.Equal(t, 1, cycles)
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("skipped").Len())
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("extension cycle").Len())
}

func TestSynthesize_MissingDeveloperDocumentIsWarning(t *testing.T) {
	f := newFixture(t)
	u := shopUnit()
	u.DeveloperDocument = "dev/nope.jnlp"

	unit, err := f.orch.Synthesize(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, unit.Warnings(), 1)
	assert.Contains(t, render(t, unit.Main()), "Shop &amp; Co")
}

func TestSynthesize_MissingTemplateRegistersNothing(t *testing.T) {
	f := newFixture(t)
	f.orch.Templates = templates.NewOverrideOnly(memfs.New())

	unit, err := f.orch.Synthesize(context.Background(), shopUnit())
	assert.Nil(t, unit)
	var mte *templates.MissingTemplateError
	require.ErrorAs(t, err, &mte)
	assert.Equal(t, templates.Main, mte.Name)
	assert.Zero(t, f.repo.Len())
}

func TestSynthesize_CombinationErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	rules, err := combine.NewRuleSet(combine.Descriptors{Merged: []string{"/jnlp/nowhere:/jar"}})
	require.NoError(t, err)
	f.orch.Rules = rules
	write(t, f.developer, "dev/bad.jnlp", `<jnlp><nowhere><jar href="x.jar"/></nowhere></jnlp>`)
	u := shopUnit()
	u.DeveloperDocument = "dev/bad.jnlp"

	unit, err := f.orch.Synthesize(context.Background(), u)
	assert.Nil(t, unit)
	var ce *combine.CombinationError
	assert.ErrorAs(t, err, &ce)
	assert.Zero(t, f.repo.Len())
}

func TestSynthesize_DisabledUnitIsNotStarted(t *testing.T) {
	f := newFixture(t)
	u := shopUnit()
	u.Disabled = true

	unit, err := f.orch.Synthesize(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Stopped, unit.State())
	assert.False(t, unit.Main().Servable())
	assert.NotZero(t, f.repo.Len())
}

func TestSynthesize_KeyConflictRollsBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Synthesize(context.Background(), shopUnit())
	require.NoError(t, err)
	before := f.repo.Keys()

	other := shopUnit()
	other.Name = "other"
	other.ContextRoot = "/shop-client"
	unit, err := f.orch.Synthesize(context.Background(), other)
	assert.Nil(t, unit)
	assert.ErrorIs(t, err, repository.ErrKeyConflict)
	assert.Equal(t, before, f.repo.Keys())
	assert.Nil(t, f.repo.UnitKeys("other"))
}

func copySigner(fs billy.Filesystem, calls *atomic.Int32) signing.Signer {
	return signing.SignerFunc(func(_ context.Context, unsigned, alias string) (string, error) {
		calls.Add(1)
		data, err := util.ReadFile(fs, unsigned)
		if err != nil {
			return "", err
		}
		signed := naming.SignedFilePath(naming.SignedDir, alias, unsigned)
		return signed, util.WriteFile(fs, signed, data, 0o644)
	})
}

func TestSynthesize_SignsSharedArtifactsOnce(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	f.orch.Signing = signing.NewCache(copySigner(f.artifacts, &calls))
	f.orch.DefaultAlias = "acme"

	a, err := f.orch.Synthesize(context.Background(), shopUnit())
	require.NoError(t, err)
	b := shopUnit()
	b.Name = "shop2"
	_, err = f.orch.Synthesize(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())

	uri := naming.SignedArtifactURI("acme", "lib/app.jar")
	item, err := f.repo.Lookup("/shop-client/" + uri)
	require.NoError(t, err)
	static, ok := item.(*content.Static)
	require.True(t, ok)
	assert.True(t, static.IsSigned())
	data, err := static.Content()
	require.NoError(t, err)
	assert.Equal(t, "PK-app", string(data))

	assert.Contains(t, render(t, a.Main()), `href="`+naming.SignedArtifactURI("acme", "lib/appFacade.jar")+`"`)
}

func TestSynthesize_SigningFailureIsPerArtifact(t *testing.T) {
	f := newFixture(t)
	f.orch.Signing = signing.NewCache(signing.SignerFunc(func(_ context.Context, unsigned, alias string) (string, error) {
		if unsigned == "lib/appFacade.jar" {
			return "", errors.New("keystore locked")
		}
		return unsigned, nil
	}))

	unit, err := f.orch.Synthesize(context.Background(), shopUnit())
	require.NotNil(t, unit)
	var se *signing.SigningError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "lib/appFacade.jar", se.File)

	assert.Equal(t, lifecycle.Running, unit.State())
	assert.Contains(t, unit.Keys(), "/shop-client/"+naming.SignedArtifactURI(naming.DefaultAlias, "lib/app.jar"))
	assert.NotContains(t, unit.Keys(), "/shop-client/"+naming.SignedArtifactURI(naming.DefaultAlias, "lib/appFacade.jar"))
}

func TestSynthesize_RequiresName(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Synthesize(context.Background(), api.Unit{})
	assert.Error(t, err)
}

func TestSynthesize_UnitValuesAreNotRequestPlaceholders(t *testing.T) {
	f := newFixture(t)
	u := shopUnit()
	u.Title = "Price ${request.codebase}"
	u.Vendor = "Cost $5 & $$"
	u.MainClass = "com.acme.${x}"
	unit, err := f.orch.Synthesize(context.Background(), u)
	require.NoError(t, err)

	out, err := unit.Main().Render(content.RequestContext{Codebase: `http://evil/x?a=1&b="2"`})
	require.NoError(t, err)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out), string(out))

	assert.Equal(t, "Price ${request.codebase}", doc.FindElement("//information/title").Text())
	assert.Equal(t, "Cost $5 & $$", doc.FindElement("//information/vendor").Text())
	assert.Equal(t, `http://evil/x?a=1&b="2"`, doc.Root().SelectAttrValue("codebase", ""))
	assert.Equal(t, "com.acme.${x}", doc.FindElement("//application-desc").SelectAttrValue("main-class", ""))
}

func TestSynthesize_DeveloperDollarsServedVerbatim(t *testing.T) {
	f := newFixture(t)
	write(t, f.developer, "dev/price.jnlp", `<jnlp>
  <information><title>Pay $$5 now</title></information>
  <resources>
    <property name="b" value="a$$b"/>
    <property name="cb" value="${request.codebase}/x"/>
  </resources>
</jnlp>`)
	u := shopUnit()
	u.DeveloperDocument = "dev/price.jnlp"
	unit, err := f.orch.Synthesize(context.Background(), u)
	require.NoError(t, err)

	out, err := unit.Main().Render(content.RequestContext{Codebase: "http://h/shop-client"})
	require.NoError(t, err)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out), string(out))

	assert.Equal(t, "Pay $$5 now", doc.FindElement("//information/title").Text())
	values := map[string]string{}
	for _, el := range doc.FindElements("//resources/property") {
		values[el.SelectAttrValue("name", "")] = el.SelectAttrValue("value", "")
	}
	assert.Equal(t, "a$$b", values["b"])
	assert.Equal(t, "http://h/shop-client/x", values["cb"])
}

func TestUnit_LifecycleFlipsItems(t *testing.T) {
	f := newFixture(t)
	unit, err := f.orch.Synthesize(context.Background(), shopUnit())
	require.NoError(t, err)

	require.NoError(t, unit.Suspend())
	for _, it := range unit.Items() {
		assert.True(t, it.IsSuspended())
		assert.False(t, it.Servable())
	}
	require.NoError(t, unit.Resume())
	assert.True(t, unit.Main().Servable())

	require.NoError(t, unit.Stop())
	err = unit.Resume()
	var ise *lifecycle.IllegalStateTransitionError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, lifecycle.Stopped, unit.State())

	require.NoError(t, unit.Undeploy())
	assert.Zero(t, f.repo.Len())
}
