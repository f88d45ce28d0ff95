// Package workspace assigns each session an exclusive working directory and
// tears it down on session completion, per spec.md §4.1.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ndls21/orchcore/internal/contract"
)

// Provider hands out and reclaims per-session workspace directories. It
// tracks which paths it created (and therefore owns) versus paths the caller
// supplied, so Teardown only ever removes what it made.
type Provider struct {
	root string

	mu      sync.Mutex
	claimed map[string]contract.SessionID
}

// NewProvider constructs a Provider rooted at root (the configured workspace
// root; default is os.TempDir(), per spec.md §6).
func NewProvider(root string) *Provider {
	return &Provider{
		root:    root,
		claimed: make(map[string]contract.SessionID),
	}
}

// Provide returns the workspace path for sessionID/cfg. If cfg.Workspace.Path
// is blank, a fresh directory is allocated under the provider's root (named
// from sessionID) and created before returning. Otherwise the caller-supplied
// path is adopted as-is — the provider does not create it and will not
// remove it on Teardown. Two live sessions never receive the same path.
func (p *Provider) Provide(sessionID contract.SessionID, cfg contract.WorkspaceRef) (path string, owned bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	path = cfg.Path
	owned = path == ""
	if owned {
		path = filepath.Join(p.root, "session-"+string(sessionID))
	}

	if existing, ok := p.claimed[path]; ok && existing != sessionID {
		return "", false, fmt.Errorf("workspace: path %s already owned by session %s", path, existing)
	}

	if owned {
		if err := os.MkdirAll(path, 0700); err != nil {
			return "", false, fmt.Errorf("workspace: create %s: %w", path, err)
		}
	} else {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return "", false, fmt.Errorf("workspace: adopt %s: %w", path, statErr)
		}
		if !info.IsDir() {
			return "", false, fmt.Errorf("workspace: adopt %s: not a directory", path)
		}
	}

	p.claimed[path] = sessionID
	return path, owned, nil
}

// Teardown removes path if owned is true (the provider created it); an
// adopted path is left untouched. Removal is retried briefly since a
// just-finished adapter process (e.g. a build tool) can hold the directory
// open for a moment after its command completes.
func (p *Provider) Teardown(ctx context.Context, path string, owned bool) error {
	p.mu.Lock()
	delete(p.claimed, path)
	p.mu.Unlock()

	if !owned {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxElapsedTime = 2 * time.Second
	b := backoff.WithContext(bo, ctx)

	return backoff.Retry(func() error {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("workspace: remove %s: %w", path, err)
		}
		return nil
	}, b)
}
