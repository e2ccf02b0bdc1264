package cmd

import (
	"errors"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/agentic-research/launchpad/internal/config"
	"github.com/agentic-research/launchpad/internal/export"
	"github.com/agentic-research/launchpad/internal/repository"
	"github.com/agentic-research/launchpad/internal/signing"
	"github.com/agentic-research/launchpad/internal/synth"
	"github.com/agentic-research/launchpad/internal/templates"
)

// env is the wiring shared by the commands: one repository, one signing
// cache and one manager per process.
type env struct {
	cfg     *config.Config
	repo    *repository.Repository
	manager *synth.Manager
	closers []func() error
}

func newEnv(artifactsDir, developerDir string) (*env, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, repo: repository.New()}

	var tmplFS billy.Filesystem
	if cfg.Templates != "" {
		tmplFS = osfs.New(cfg.Templates)
	}
	artifacts := osfs.New(artifactsDir)
	var developer billy.Filesystem
	if developerDir != "" {
		developer = osfs.New(developerDir)
	}

	var cache *signing.Cache
	if s := cfg.Signing; s != nil {
		signer := &signing.CommandSigner{
			FS:        artifacts,
			Command:   s.Command,
			Args:      s.Args,
			OutputDir: s.OutputDir,
			Logger:    logger,
		}
		opts := []signing.Option{signing.WithLogger(logger)}
		if s.Index != "" {
			idx, err := signing.OpenSQLiteIndex(s.Index)
			if err != nil {
				return nil, err
			}
			e.closers = append(e.closers, idx.Close)
			opts = append(opts, signing.WithIndex(idx, artifacts))
		}
		cache = signing.NewCache(signer, opts...)
	}

	e.manager = synth.NewManager(&synth.Orchestrator{
		Rules:        rules,
		Templates:    templates.New(tmplFS),
		Artifacts:    artifacts,
		Developer:    developer,
		Signing:      cache,
		DefaultAlias: cfg.Alias(""),
		Repo:         e.repo,
		Logger:       logger,
	})
	return e, nil
}

// codebase resolves a repository key to base joined with the context root
// of the unit serving it.
func (e *env) codebase(base string) export.CodebaseFunc {
	base = strings.TrimSuffix(base, "/")
	fallback := export.BaseURL(base)
	return func(key string) string {
		best := ""
		for _, u := range e.manager.Units() {
			root := u.ContextRoot
			if (key == root || strings.HasPrefix(key, root+"/")) && len(root) > len(best) {
				best = root
			}
		}
		if best == "" {
			return fallback(key)
		}
		return base + best
	}
}

func (e *env) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
