// Package signing memoises the external signing pipeline so that an
// artifact is signed at most once per signing alias, across every unit
// that shares the alias.
package signing

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/agentic-research/launchpad/internal/metrics"
)

// SigningError reports a failed signing operation for one artifact.
type SigningError struct {
	File  string
	Alias string
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign %s as %q: %v", e.File, e.Alias, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// Key identifies a signing operation.
type Key struct {
	File  string
	Alias string
}

func newKey(file, alias string) Key {
	return Key{File: path.Clean("/" + file), Alias: alias}
}

func (k Key) String() string { return k.Alias + "\x00" + k.File }

// Entry is a persisted signing result. Digest identifies the unsigned
// bytes that were signed.
type Entry struct {
	Signed string
	Digest string
}

// Index persists cache entries across restarts.
type Index interface {
	Lookup(key Key) (e Entry, ok bool, err error)
	Record(key Key, e Entry) error
}

// Cache is the process-wide signed-artifact memo. One Cache is shared by
// every unit; concurrent first requests for a key share a single signing
// operation.
type Cache struct {
	signer  Signer
	index   Index
	fs      billy.Filesystem
	logger  *zap.Logger
	entries sync.Map // Key -> string
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithIndex backs the cache with a persistent index. fs holds both the
// unsigned and the signed files. Index hits are only trusted when the
// unsigned file still has the recorded digest and the signed file exists.
func WithIndex(idx Index, fs billy.Filesystem) Option {
	return func(c *Cache) {
		c.index = idx
		c.fs = fs
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache wraps signer.
func NewCache(signer Signer, opts ...Option) *Cache {
	c := &Cache{signer: signer, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SignedPathFor returns the signed copy of unsigned for alias, invoking the
// signer only the first time the pair is seen. The signing operation runs
// detached from ctx so that one caller giving up does not fail the others
// waiting on it; ctx only bounds how long this caller waits.
func (c *Cache) SignedPathFor(ctx context.Context, unsigned, alias string) (string, error) {
	key := newKey(unsigned, alias)
	if v, ok := c.entries.Load(key); ok {
		metrics.SigningCacheHits.WithLabelValues(alias).Inc()
		return v.(string), nil
	}

	signCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		// A call that finished between Load and DoChan has already stored the entry.
		if v, ok := c.entries.Load(key); ok {
			metrics.SigningCacheHits.WithLabelValues(alias).Inc()
			return v, nil
		}
		return c.sign(signCtx, key, unsigned, alias)
	})
	select {
	case <-ctx.Done():
		return "", &SigningError{File: unsigned, Alias: alias, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (c *Cache) sign(ctx context.Context, key Key, unsigned, alias string) (any, error) {
	var digest string
	if c.index != nil && c.fs != nil {
		d, err := c.digest(unsigned)
		if err != nil {
			c.logger.Debug("Cannot digest unsigned artifact", zap.String("unsigned", unsigned), zap.Error(err))
		}
		digest = d
	}
	if signed, ok := c.fromIndex(key, digest); ok {
		c.entries.Store(key, signed)
		metrics.SigningCacheHits.WithLabelValues(alias).Inc()
		return signed, nil
	}

	signed, err := c.signer.Sign(ctx, unsigned, alias)
	if err != nil {
		metrics.SigningOperations.WithLabelValues(alias, "error").Inc()
		return nil, &SigningError{File: unsigned, Alias: alias, Err: err}
	}
	metrics.SigningOperations.WithLabelValues(alias, "ok").Inc()
	c.entries.Store(key, signed)
	c.logger.Info("Signed artifact",
		zap.String("unsigned", unsigned),
		zap.String("alias", alias),
		zap.String("signed", signed))

	if c.index != nil {
		if err := c.index.Record(key, Entry{Signed: signed, Digest: digest}); err != nil {
			c.logger.Warn("Signing index record failed", zap.String("unsigned", unsigned), zap.Error(err))
		}
	}
	return signed, nil
}

func (c *Cache) fromIndex(key Key, digest string) (string, bool) {
	if c.index == nil {
		return "", false
	}
	e, ok, err := c.index.Lookup(key)
	if err != nil {
		c.logger.Warn("Signing index lookup failed", zap.String("unsigned", key.File), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	if c.fs != nil {
		if digest == "" || e.Digest != digest {
			c.logger.Debug("Discarding signing index entry for changed artifact", zap.String("unsigned", key.File))
			return "", false
		}
		if _, err := c.fs.Stat(e.Signed); err != nil {
			c.logger.Debug("Discarding stale signing index entry", zap.String("signed", e.Signed))
			return "", false
		}
	}
	return e.Signed, true
}

// digest returns the hex BLAKE3 digest of the file at p.
func (c *Cache) digest(p string) (string, error) {
	f, err := c.fs.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("digest %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Len returns the number of memoised entries.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(any, any) bool { n++; return true })
	return n
}
