package cmd

import (
	"fmt"
	"os"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/launchpad/api"
)

var (
	versionPath = jp.MustParseString("$.version")
	unitsPath   = jp.MustParseString("$.units[*]")
)

// loadManifest reads a JSON deployment manifest.
func loadManifest(path string) (*api.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return parseManifest(data)
}

func parseManifest(data []byte) (*api.Manifest, error) {
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	m := &api.Manifest{}
	if v := versionPath.First(doc); v != nil {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("manifest version: expected string, got %T", v)
		}
		m.Version = s
	}
	for i, raw := range unitsPath.Get(doc) {
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("units[%d]: expected object, got %T", i, raw)
		}
		u, err := unitFromMap(obj)
		if err != nil {
			return nil, fmt.Errorf("units[%d]: %w", i, err)
		}
		m.Units = append(m.Units, u)
	}
	return m, nil
}

func unitFromMap(obj map[string]any) (api.Unit, error) {
	var (
		u   api.Unit
		err error
	)
	str := func(key string) string {
		if err != nil {
			return ""
		}
		v, ok := obj[key]
		if !ok || v == nil {
			return ""
		}
		s, ok := v.(string)
		if !ok {
			err = fmt.Errorf("%s: expected string, got %T", key, v)
		}
		return s
	}

	u.Name = str("name")
	u.Module = str("module")
	u.ContextRoot = str("context_root")
	u.Title = str("title")
	u.Vendor = str("vendor")
	u.MainClass = str("main_class")
	u.SigningAlias = str("signing_alias")
	u.MainJar = str("main_jar")
	u.FacadeJar = str("facade_jar")
	u.DeveloperDocument = str("developer_document")
	if err != nil {
		return u, err
	}
	if u.Name == "" {
		return u, fmt.Errorf("name is required")
	}

	if raw, ok := obj["nested_facades"]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return u, fmt.Errorf("nested_facades: expected array, got %T", raw)
		}
		for _, v := range list {
			s, ok := v.(string)
			if !ok {
				return u, fmt.Errorf("nested_facades: expected string, got %T", v)
			}
			u.NestedFacades = append(u.NestedFacades, s)
		}
	}
	if raw, ok := obj["properties"]; ok && raw != nil {
		props, ok := raw.(map[string]any)
		if !ok {
			return u, fmt.Errorf("properties: expected object, got %T", raw)
		}
		u.Properties = make(map[string]string, len(props))
		for k, v := range props {
			u.Properties[k] = fmt.Sprint(v)
		}
	}
	if raw, ok := obj["disabled"]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return u, fmt.Errorf("disabled: expected bool, got %T", raw)
		}
		u.Disabled = b
	}
	return u, nil
}
