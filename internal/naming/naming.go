// Package naming derives the URI prefixes and file locations that keep
// independently deployed units apart.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// SignedDir is the directory, under both a unit's context root and the
// signing output directory, that holds signed artifacts.
const SignedDir = "__signed"

// DefaultAlias is the signing identity used when nothing else names one.
const DefaultAlias = "launchpad"

// UnitName identifies a unit: "app" or "app/module".
func UnitName(app, module string) string {
	if module == "" {
		return app
	}
	return app + "/" + module
}

// ContextRoot is the default URI prefix for a unit.
// Format: /app-client or /app-module-client
func ContextRoot(app, module string) string {
	name := sanitize(app)
	if module != "" {
		name += "-" + sanitize(strings.TrimSuffix(module, ".jar"))
	}
	return "/" + name + "-client"
}

// CleanContextRoot normalizes a configured context root to "/x".
func CleanContextRoot(root string) string {
	root = path.Clean("/" + strings.TrimSpace(root))
	if root == "/" {
		return ""
	}
	return root
}

// Key joins a context root and a unit-relative URI into a repository key.
// An empty relative URI yields the bare context root.
func Key(contextRoot, relative string) string {
	if relative == "" {
		return CleanContextRoot(contextRoot)
	}
	return path.Join("/", contextRoot, relative)
}

// SignedArtifactURI is the unit-relative URI of a signed artifact.
// Format: __signed/<alias>/<hash>/<base>, where hash identifies the
// unsigned source so equal base names from different sources never collide.
func SignedArtifactURI(alias, unsignedPath string) string {
	return path.Join(SignedDir, sanitize(alias), shortHash(cleanFile(unsignedPath)), path.Base(unsignedPath))
}

// SignedFilePath is where the signing pipeline writes the signed copy of
// unsignedPath for alias. It mirrors SignedArtifactURI under outputDir.
func SignedFilePath(outputDir, alias, unsignedPath string) string {
	return path.Join(outputDir, sanitize(alias), shortHash(cleanFile(unsignedPath)), path.Base(unsignedPath))
}

// StaticURI is the unit-relative URI of an unsigned artifact.
func StaticURI(p string) string {
	return strings.TrimPrefix(cleanFile(p), "/")
}

func cleanFile(p string) string {
	return path.Clean("/" + p)
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:3])
}

// sanitize keeps names URI- and filesystem-safe.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
