package synth

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agentic-research/launchpad/internal/content"
	"github.com/agentic-research/launchpad/internal/lifecycle"
	"github.com/agentic-research/launchpad/internal/repository"
)

// Unit is one deployed unit's registered content set and state machine.
type Unit struct {
	Name        string
	ContextRoot string

	repo     *repository.Repository
	machine  *lifecycle.Machine
	items    map[string]content.Item // repository key -> item
	warnings []error
	logger   *zap.Logger

	mu      sync.Mutex
	enabled bool
}

// State returns the lifecycle state.
func (u *Unit) State() lifecycle.State { return u.machine.State() }

// Enabled reports the unit's eligibility flag.
func (u *Unit) Enabled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.enabled
}

func (u *Unit) setEnabled(v bool) {
	u.mu.Lock()
	u.enabled = v
	u.mu.Unlock()
}

// Warnings returns the recoverable problems met during synthesis.
func (u *Unit) Warnings() []error { return append([]error(nil), u.warnings...) }

// Items returns the unit's content keyed by repository key. The main
// document appears under both its own URI and the bare context root.
func (u *Unit) Items() map[string]content.Item {
	out := make(map[string]content.Item, len(u.items))
	for k, v := range u.items {
		out[k] = v
	}
	return out
}

// Keys returns the unit's repository keys, sorted.
func (u *Unit) Keys() []string { return sortedKeys(u.items) }

// Main returns the unit's primary launch document.
func (u *Unit) Main() *content.Dynamic {
	for _, it := range u.items {
		if d, ok := it.(*content.Dynamic); ok && d.IsMain() {
			return d
		}
	}
	return nil
}

func (u *Unit) Start() error   { return u.transition(lifecycle.Start, content.Item.Start) }
func (u *Unit) Stop() error    { return u.transition(lifecycle.Stop, content.Item.Stop) }
func (u *Unit) Suspend() error { return u.transition(lifecycle.Suspend, content.Item.Suspend) }
func (u *Unit) Resume() error  { return u.transition(lifecycle.Resume, content.Item.Resume) }

func (u *Unit) transition(action lifecycle.Action, flip func(content.Item)) error {
	if err := u.machine.Transition(action, u.flipAll(flip)); err != nil {
		return fmt.Errorf("unit %s: %w", u.Name, err)
	}
	u.logger.Debug("Lifecycle transition",
		zap.Stringer("action", action),
		zap.Stringer("state", u.machine.State()))
	return nil
}

// tryTransition applies action only when the current state allows it and
// reports whether it did.
func (u *Unit) tryTransition(action lifecycle.Action, flip func(content.Item)) (bool, error) {
	ok, err := u.machine.TryTransition(action, u.flipAll(flip))
	if err != nil {
		return ok, fmt.Errorf("unit %s: %w", u.Name, err)
	}
	if ok {
		u.logger.Debug("Lifecycle transition",
			zap.Stringer("action", action),
			zap.Stringer("state", u.machine.State()))
	}
	return ok, nil
}

func (u *Unit) flipAll(flip func(content.Item)) func() error {
	return func() error {
		for _, it := range u.items {
			flip(it)
		}
		return nil
	}
}

// register adds every item to the repository, undoing the unit's keys if
// any of them is owned by another unit.
func (u *Unit) register() error {
	for _, key := range u.Keys() {
		if err := u.repo.Register(u.Name, key, u.items[key]); err != nil {
			u.repo.Unregister(u.Name)
			return fmt.Errorf("unit %s: %w", u.Name, err)
		}
	}
	return nil
}

func (u *Unit) unregister() int { return u.repo.Unregister(u.Name) }

// Undeploy stops the unit and removes its content from the repository.
func (u *Unit) Undeploy() error {
	err := u.Stop()
	var ise *lifecycle.IllegalStateTransitionError
	if err != nil && !errors.As(err, &ise) {
		return err
	}
	n := u.unregister()
	u.logger.Info("Undeployed unit", zap.Int("items", n))
	return nil
}
