package build

import (
	"fmt"
	"sync"

	"github.com/felixgeelhaar/statekit"
)

// PrefixState is the lifecycle state of an install prefix.
type PrefixState string

const (
	// PrefixEmpty is a claimed prefix with nothing installed.
	PrefixEmpty PrefixState = "empty"
	// PrefixStaged means a build finished and its tree is being copied in.
	PrefixStaged PrefixState = "staged"
	// PrefixInstalled holds a complete build.
	PrefixInstalled PrefixState = "installed"
	// PrefixFailed holds a partial or abandoned install.
	PrefixFailed PrefixState = "failed"
)

// Prefix lifecycle events.
const (
	EventStage   = "STAGE"
	EventInstall = "INSTALL"
	EventFail    = "FAIL"
	EventReset   = "RESET"
)

// prefixContext is the statekit context of a prefix machine.
type prefixContext struct {
	Owner   string
	Version string
}

// InstallPrefix is the destination directory of one formula version.
//
// Transitions:
//
//	empty  --STAGE-->   staged
//	staged --INSTALL--> installed
//	empty, staged --FAIL--> failed
//	installed, failed --RESET--> empty
//
// Any other transition fails with ErrIllegalTransition.
type InstallPrefix struct {
	mu          sync.Mutex
	owner       string
	version     string
	path        string
	fingerprint string
	reason      string
	interp      *statekit.Interpreter[prefixContext]
}

// NewInstallPrefix returns an Empty prefix.
func NewInstallPrefix(owner, version, path string) (*InstallPrefix, error) {
	interp, err := buildPrefixMachine(owner, version)
	if err != nil {
		return nil, err
	}
	interp.Start()
	return &InstallPrefix{owner: owner, version: version, path: path, interp: interp}, nil
}

// RestorePrefix rebuilds a prefix from its receipt.
func RestorePrefix(r Receipt, path string) (*InstallPrefix, error) {
	p, err := NewInstallPrefix(r.Name, r.Version, path)
	if err != nil {
		return nil, err
	}

	var replay []string
	switch r.State {
	case PrefixEmpty:
	case PrefixStaged:
		replay = []string{EventStage}
	case PrefixInstalled:
		replay = []string{EventStage, EventInstall}
	case PrefixFailed:
		replay = []string{EventFail}
	default:
		return nil, fmt.Errorf("receipt for %s %s has unknown state %q", r.Name, r.Version, r.State)
	}
	for _, event := range replay {
		if err := p.send(event); err != nil {
			return nil, err
		}
	}
	p.fingerprint = r.Fingerprint
	p.reason = r.Reason
	return p, nil
}

func buildPrefixMachine(owner, version string) (*statekit.Interpreter[prefixContext], error) {
	machine, err := statekit.NewMachine[prefixContext]("install-prefix").
		WithInitial("empty").
		WithContext(prefixContext{Owner: owner, Version: version}).
		State("empty").
		On(EventStage).Target("staged").
		On(EventFail).Target("failed").Done().
		State("staged").
		On(EventInstall).Target("installed").
		On(EventFail).Target("failed").Done().
		State("installed").
		On(EventReset).Target("empty").Done().
		State("failed").
		On(EventReset).Target("empty").Done().
		Build()
	if err != nil {
		return nil, fmt.Errorf("build prefix state machine: %w", err)
	}
	return statekit.NewInterpreter(machine), nil
}

// Owner returns the formula name.
func (p *InstallPrefix) Owner() string { return p.owner }

// Version returns the formula version.
func (p *InstallPrefix) Version() string { return p.version }

// Path returns the prefix directory.
func (p *InstallPrefix) Path() string { return p.path }

// State returns the current lifecycle state.
func (p *InstallPrefix) State() PrefixState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state()
}

// Fingerprint returns the build fingerprint of the installed contents.
func (p *InstallPrefix) Fingerprint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fingerprint
}

// Reason returns why the prefix failed, if it did.
func (p *InstallPrefix) Reason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Stage marks the start of copying a finished build in.
func (p *InstallPrefix) Stage() error {
	return p.send(EventStage)
}

// Install marks the prefix complete with the given build fingerprint.
func (p *InstallPrefix) Install(fingerprint string) error {
	if err := p.send(EventInstall); err != nil {
		return err
	}
	p.mu.Lock()
	p.fingerprint = fingerprint
	p.reason = ""
	p.mu.Unlock()
	return nil
}

// Fail marks the prefix failed.
func (p *InstallPrefix) Fail(reason string) error {
	if err := p.send(EventFail); err != nil {
		return err
	}
	p.mu.Lock()
	p.reason = reason
	p.mu.Unlock()
	return nil
}

// Reset returns an Installed or Failed prefix to Empty.
func (p *InstallPrefix) Reset() error {
	if err := p.send(EventReset); err != nil {
		return err
	}
	p.mu.Lock()
	p.fingerprint = ""
	p.reason = ""
	p.mu.Unlock()
	return nil
}

// Receipt returns the persistable record of the prefix.
func (p *InstallPrefix) Receipt() Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Receipt{
		Name:        p.owner,
		Version:     p.version,
		State:       p.state(),
		Fingerprint: p.fingerprint,
		Reason:      p.reason,
	}
}

// send fires event and fails if the machine did not move.
func (p *InstallPrefix) send(event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.state()
	p.interp.Send(statekit.Event{Type: statekit.EventType(event)})
	if to := p.state(); to == from {
		return fmt.Errorf("%w: %s from %s for %s %s", ErrIllegalTransition, event, from, p.owner, p.version)
	}
	return nil
}

func (p *InstallPrefix) state() PrefixState {
	return PrefixState(p.interp.State().Value)
}
