package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	m, err := parseManifest([]byte(`{
  "version": "v1",
  "units": [
    {
      "name": "shop",
      "module": "reports.jar",
      "title": "Shop",
      "main_jar": "lib/app.jar",
      "nested_facades": ["lib/a.jar", "lib/b.jar"],
      "developer_document": "shop/app.jnlp",
      "properties": {"build": 42, "env": "prod"},
      "disabled": true
    },
    {"name": "admin", "context_root": "/adm"}
  ]
}`))
	require.NoError(t, err)
	assert.Equal(t, "v1", m.Version)
	require.Len(t, m.Units, 2)

	u := m.Units[0]
	assert.Equal(t, "shop", u.Name)
	assert.Equal(t, "reports.jar", u.Module)
	assert.Equal(t, []string{"lib/a.jar", "lib/b.jar"}, u.NestedFacades)
	assert.Equal(t, "shop/app.jnlp", u.DeveloperDocument)
	assert.Equal(t, map[string]string{"build": "42", "env": "prod"}, u.Properties)
	assert.True(t, u.Disabled)

	assert.Equal(t, "/adm", m.Units[1].ContextRoot)
	assert.False(t, m.Units[1].Disabled)
}

func TestParseManifest_Errors(t *testing.T) {
	for name, src := range map[string]string{
		"not json":       `{`,
		"missing name":   `{"units": [{"title": "x"}]}`,
		"wrong type":     `{"units": [{"name": 3}]}`,
		"unit not obj":   `{"units": ["shop"]}`,
		"bad disabled":   `{"units": [{"name": "a", "disabled": "yes"}]}`,
		"bad nested":     `{"units": [{"name": "a", "nested_facades": "x.jar"}]}`,
		"bad version":    `{"version": 1}`,
		"bad properties": `{"units": [{"name": "a", "properties": []}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseManifest([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestParseManifest_Empty(t *testing.T) {
	m, err := parseManifest([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, m.Units)
}
