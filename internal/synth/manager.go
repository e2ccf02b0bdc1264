package synth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/agentic-research/launchpad/api"
	"github.com/agentic-research/launchpad/internal/content"
	"github.com/agentic-research/launchpad/internal/lifecycle"
	"github.com/agentic-research/launchpad/internal/naming"
)

var (
	ErrUnknownUnit     = errors.New("unknown unit")
	ErrAlreadyDeployed = errors.New("unit already deployed")
)

// Manager tracks deployed units and applies administrative actions to
// them. Actions on different units may run concurrently.
type Manager struct {
	orch *Orchestrator

	mu    sync.Mutex
	units map[string]*Unit // nil value: deployment in progress
}

func NewManager(orch *Orchestrator) *Manager {
	return &Manager{orch: orch, units: make(map[string]*Unit)}
}

// Deploy synthesizes u. A non-nil error with a non-nil Unit means the unit
// was deployed with some artifacts missing (see Orchestrator.Synthesize).
func (m *Manager) Deploy(ctx context.Context, u api.Unit) (*Unit, error) {
	name := naming.UnitName(u.Name, u.Module)
	m.mu.Lock()
	if _, ok := m.units[name]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDeployed, name)
	}
	m.units[name] = nil
	m.mu.Unlock()

	unit, err := m.orch.Synthesize(ctx, u)

	m.mu.Lock()
	defer m.mu.Unlock()
	if unit == nil {
		delete(m.units, name)
		return nil, err
	}
	m.units[name] = unit
	return unit, err
}

// DeployAll deploys every unit in the manifest, in order. It continues past
// failures and returns them joined.
func (m *Manager) DeployAll(ctx context.Context, manifest *api.Manifest) error {
	var errs []error
	for _, u := range manifest.Units {
		if _, err := m.Deploy(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unit returns a deployed unit by name.
func (m *Manager) Unit(name string) (*Unit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.units[name]
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, name)
	}
	return u, nil
}

// Units returns the deployed units, sorted by name.
func (m *Manager) Units() []*Unit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Unit, 0, len(m.units))
	for _, u := range m.units {
		if u != nil {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Undeploy stops the unit and removes its content.
func (m *Manager) Undeploy(name string) error {
	m.mu.Lock()
	u := m.units[name]
	if u == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownUnit, name)
	}
	delete(m.units, name)
	m.mu.Unlock()
	return u.Undeploy()
}

// SetEnabled flips the unit's eligibility. Enabling starts a stopped unit;
// disabling stops a running or suspended one.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	u, err := m.Unit(name)
	if err != nil {
		return err
	}
	u.setEnabled(enabled)
	if !enabled {
		return u.Stop()
	}
	_, err = u.tryTransition(lifecycle.Start, content.Item.Start)
	return err
}

// Suspend suspends a running unit. Stopped or disabled units are left alone.
func (m *Manager) Suspend(name string) error {
	u, err := m.Unit(name)
	if err != nil {
		return err
	}
	if !u.Enabled() {
		m.logger().Debug("Suspend skipped", zap.String("unit", name), zap.Bool("enabled", false))
		return nil
	}
	ok, err := u.tryTransition(lifecycle.Suspend, content.Item.Suspend)
	if !ok {
		m.logger().Debug("Suspend skipped", zap.String("unit", name), zap.Stringer("state", u.State()))
	}
	return err
}

// Resume resumes a suspended unit. Units in any other state are left alone.
func (m *Manager) Resume(name string) error {
	u, err := m.Unit(name)
	if err != nil {
		return err
	}
	if !u.Enabled() {
		m.logger().Debug("Resume skipped", zap.String("unit", name), zap.Bool("enabled", false))
		return nil
	}
	ok, err := u.tryTransition(lifecycle.Resume, content.Item.Resume)
	if !ok {
		m.logger().Debug("Resume skipped", zap.String("unit", name), zap.Stringer("state", u.State()))
	}
	return err
}

func (m *Manager) logger() *zap.Logger { return m.orch.logger() }
