package locate

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<?xml version="1.0"?>
<jnlp spec="6.0+">
  <information>
    <title>Sample</title>
  </information>
  <resources>
    <jar href="a.jar"/>
    <jar href="b.jar"/>
  </resources>
  <resources os="Linux"/>
</jnlp>
`

func parse(t *testing.T, s string) *etree.Document {
	t.Helper()
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(s))
	return doc
}

func TestCompile_Elements(t *testing.T) {
	doc := parse(t, sampleDoc)
	e, err := Compile("/jnlp/information", "/title")
	require.NoError(t, err)

	assert.False(t, e.IsAttribute())
	assert.Equal(t, "/jnlp/information/title", e.TargetPath())

	nodes := e.Targets(doc)
	require.Len(t, nodes, 1)
	assert.False(t, nodes[0].IsAttr())
	assert.Equal(t, "Sample", nodes[0].Element.Text())

	parent, err := e.Parent(doc)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "information", parent.Tag)
}

func TestCompile_RelativeWithoutSlash(t *testing.T) {
	e, err := Compile("/jnlp/resources[1]", "jar")
	require.NoError(t, err)
	assert.Equal(t, "/jnlp/resources[1]/jar", e.TargetPath())
	assert.Len(t, e.Targets(parse(t, sampleDoc)), 2)
}

func TestCompile_Attribute(t *testing.T) {
	doc := parse(t, sampleDoc)
	e, err := Compile("/jnlp", "/@spec")
	require.NoError(t, err)

	assert.True(t, e.IsAttribute())
	assert.Equal(t, "spec", e.Attribute())

	nodes := e.Targets(doc)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].IsAttr())
	assert.Equal(t, "6.0+", nodes[0].Attr.Value)
	assert.Equal(t, "jnlp", nodes[0].Element.Tag)
}

func TestCompile_AttributeMissingIsZeroMatches(t *testing.T) {
	e, err := Compile("/jnlp", "/@codebase")
	require.NoError(t, err)
	doc := parse(t, sampleDoc)
	assert.Empty(t, e.Targets(doc))
	assert.Len(t, e.Owners(doc), 1)
}

func TestCompile_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		parent   string
		relative string
	}{
		{"empty parent", "", "/title"},
		{"empty relative", "/jnlp", ""},
		{"unclosed filter in parent", "/jnlp/resources[@os", "/jar"},
		{"unclosed filter in target", "/jnlp", "/resources["},
		{"empty attribute name", "/jnlp", "/@"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.parent, tt.relative)
			require.Error(t, err)
			var ipe *InvalidPathError
			assert.ErrorAs(t, err, &ipe)
		})
	}
}

func TestParent_Ambiguous(t *testing.T) {
	e := MustCompile("/jnlp/resources", "/jar")
	_, err := e.Parent(parse(t, sampleDoc))
	assert.Error(t, err)
}

func TestParent_NoMatch(t *testing.T) {
	e := MustCompile("/jnlp/security", "/all-permissions")
	parent, err := e.Parent(parse(t, sampleDoc))
	require.NoError(t, err)
	assert.Nil(t, parent)
}

func TestCompiler_Memoises(t *testing.T) {
	c := NewCompiler()
	a, err := c.Compile("/jnlp", "/information")
	require.NoError(t, err)
	b, err := c.Compile("/jnlp", "/information")
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = c.Compile("/jnlp[", "/x")
	assert.Error(t, err)
}

func TestExpression_String(t *testing.T) {
	e := MustCompile("/jnlp/information", "/title")
	assert.Equal(t, "/jnlp/information:/title", e.String())
}
