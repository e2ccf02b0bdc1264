// Package publish writes rendered content to a directory tree.
package publish

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/beevik/etree"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ValidationError reports a launch document that is not well-formed.
type ValidationError struct {
	FilePath string
	Line     int // 1-indexed, 0 when unknown
	Message  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.FilePath, e.Line, e.Message)
}

// Validate checks that XML documents (.jnlp, .xml) parse. Other files pass
// through without validation.
func Validate(content []byte, filePath string) error {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".jnlp", ".xml":
	default:
		return nil
	}
	doc := etree.NewDocument()
	err := doc.ReadFromBytes(content)
	if err == nil && doc.Root() == nil {
		err = errors.New("no root element")
	}
	if err == nil {
		return nil
	}
	ve := &ValidationError{FilePath: filePath, Message: err.Error()}
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		ve.Line = se.Line
		ve.Message = se.Msg
	}
	return ve
}

// WriteFile writes data to name atomically: content goes to a temp file in
// the same directory, which is then renamed over name. An existing file's
// permissions are preserved.
func WriteFile(name string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".launchpad-publish-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("close temp: %w", err)
	}

	mode := perm
	if info, err := os.Stat(name); err == nil {
		mode = info.Mode().Perm()
	}
	_ = os.Chmod(tmpName, mode) // best-effort permission sync

	if err := os.Rename(tmpName, name); err != nil {
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("rename temp to %s: %w", name, err)
	}
	return nil
}

// Tree copies every file in src to the directory dst, validating launch
// documents first. It returns the number of files written. Nothing is
// written if any document fails validation. Concurrent Trees into the same
// dst fail with ErrLocked.
func Tree(src billy.Filesystem, dst string) (int, error) {
	files := make(map[string][]byte)
	err := util.Walk(src, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := src.Open(p)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		if err := Validate(data, p); err != nil {
			return err
		}
		files[p] = data
		return nil
	})
	if err != nil {
		return 0, err
	}

	unlock, err := lockDir(dst)
	if err != nil {
		return 0, err
	}
	defer unlock()

	for p, data := range files {
		target := filepath.Join(dst, filepath.FromSlash(strings.TrimPrefix(p, "/")))
		if err := WriteFile(target, data, 0o644); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}
