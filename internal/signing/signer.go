package signing

import (
	"context"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"

	billy "github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"github.com/agentic-research/launchpad/internal/content"
	"github.com/agentic-research/launchpad/internal/naming"
)

// Signer is the external signing pipeline: it produces a signed copy of
// unsigned for the alias and returns the signed file's path. Both paths
// are relative to the artifacts filesystem.
type Signer interface {
	Sign(ctx context.Context, unsigned, alias string) (string, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, unsigned, alias string) (string, error)

func (f SignerFunc) Sign(ctx context.Context, unsigned, alias string) (string, error) {
	return f(ctx, unsigned, alias)
}

// DefaultArgs invoke jarsigner; keystore options are prepended by configuration.
var DefaultArgs = []string{"-signedjar", "${signed}", "${unsigned}", "${alias}"}

// CommandSigner runs an external command such as jarsigner. Args may use
// ${unsigned}, ${signed} and ${alias}, which expand to OS paths and the alias.
// FS must be backed by the OS filesystem (osfs) so the command can reach it.
type CommandSigner struct {
	FS        billy.Filesystem
	Command   string
	Args      []string
	OutputDir string
	Logger    *zap.Logger
}

// Sign implements Signer.
func (s *CommandSigner) Sign(ctx context.Context, unsigned, alias string) (string, error) {
	signed := naming.SignedFilePath(s.OutputDir, alias, unsigned)
	if err := s.FS.MkdirAll(path.Dir(signed), 0o755); err != nil {
		return "", fmt.Errorf("mkdir for %s: %w", signed, err)
	}

	args := DefaultArgs
	if len(s.Args) > 0 {
		args = s.Args
	}
	tokens := map[string]string{
		"unsigned": s.osPath(unsigned),
		"signed":   s.osPath(signed),
		"alias":    alias,
	}
	expanded := make([]string, len(args))
	for i, a := range args {
		expanded[i] = content.Substitute(a, tokens)
	}

	if s.Logger != nil {
		s.Logger.Debug("Signing artifact",
			zap.String("command", s.Command),
			zap.String("unsigned", unsigned),
			zap.String("alias", alias))
	}
	cmd := exec.CommandContext(ctx, s.Command, expanded...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w\n%s", s.Command, err, string(output))
	}
	return signed, nil
}

func (s *CommandSigner) osPath(p string) string {
	return filepath.Join(s.FS.Root(), filepath.FromSlash(p))
}
