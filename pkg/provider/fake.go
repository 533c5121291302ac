package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/smithy-go"

	"github.com/surgeworks/stampede/pkg/types"
)

// Script controls how the fake advances one container group through its
// lifecycle. Progress is driven by Status calls, so tests are deterministic
// regardless of wall-clock timing.
type Script struct {
	FailCreate        bool // Create returns a fatal error
	ThrottleCreates   int  // number of Create attempts rejected as throttled before acceptance
	PollsUntilRunning int  // Status calls reporting unknown before running
	PollsUntilDone    int  // Status calls reporting running before terminated; < 0 means never
	ExitCode          int
	OnRunning         func() // invoked once when the group first reports running
	Logs              []byte
}

// DefaultScript runs after one poll and terminates cleanly after one more
func DefaultScript() Script {
	return Script{PollsUntilRunning: 1, PollsUntilDone: 1}
}

type fakeGroup struct {
	script    Script
	polls     int
	running   bool
	deleted   bool
	announced bool
}

// Fake is a deterministic in-memory Provider for tests
type Fake struct {
	mu        sync.Mutex
	seq       int
	groups    map[string]*fakeGroup
	throttles map[string]int
	scriptFn  func(groupName string) Script

	CreateCalls int
	DeleteCalls []string
}

// NewFake creates a fake provider. scriptFn picks the script per group
// name; nil uses DefaultScript for everything.
func NewFake(scriptFn func(groupName string) Script) *Fake {
	if scriptFn == nil {
		scriptFn = func(string) Script { return DefaultScript() }
	}
	return &Fake{
		groups:    make(map[string]*fakeGroup),
		throttles: make(map[string]int),
		scriptFn:  scriptFn,
	}
}

// throttledError satisfies smithy.APIError so IsThrottled recognizes it
type throttledError struct{}

func (throttledError) Error() string                 { return "Rate exceeded" }
func (throttledError) ErrorCode() string             { return "ThrottlingException" }
func (throttledError) ErrorMessage() string          { return "Rate exceeded" }
func (throttledError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

func (f *Fake) Create(ctx context.Context, spec CreateSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls++
	script := f.scriptFn(spec.GroupName)

	if script.FailCreate {
		return "", fmt.Errorf("%w: create %s rejected", types.ErrProviderFatal, spec.GroupName)
	}
	if script.ThrottleCreates > f.throttles[spec.GroupName] {
		f.throttles[spec.GroupName]++
		return "", fmt.Errorf("%w: create %s: %w", types.ErrProviderThrottled, spec.GroupName, throttledError{})
	}

	f.seq++
	id := fmt.Sprintf("fake-task-%d", f.seq)
	f.groups[id] = &fakeGroup{script: script}
	return id, nil
}

func (f *Fake) Status(ctx context.Context, providerID string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{State: StateUnknown}, err
	}
	f.mu.Lock()
	g, ok := f.groups[providerID]
	if !ok || g.deleted {
		f.mu.Unlock()
		return Status{State: StateUnknown}, nil
	}

	g.polls++
	var announce func()
	var st Status
	switch {
	case g.polls <= g.script.PollsUntilRunning:
		st = Status{State: StateUnknown}
	case g.script.PollsUntilDone < 0 || g.polls <= g.script.PollsUntilRunning+g.script.PollsUntilDone:
		g.running = true
		if !g.announced {
			g.announced = true
			announce = g.script.OnRunning
		}
		st = Status{State: StateRunning}
	default:
		code := g.script.ExitCode
		st = Status{State: StateTerminated, ExitCode: &code}
	}
	f.mu.Unlock()

	if announce != nil {
		announce()
	}
	return st, nil
}

func (f *Fake) Delete(ctx context.Context, providerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeleteCalls = append(f.DeleteCalls, providerID)
	if g, ok := f.groups[providerID]; ok {
		g.deleted = true
	}
	return nil
}

func (f *Fake) Logs(ctx context.Context, providerID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[providerID]; ok {
		return g.script.Logs, nil
	}
	return nil, nil
}

// Live reports whether any created group has not been deleted. Tests use it
// to assert the cleanup invariant.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, g := range f.groups {
		if !g.deleted {
			n++
		}
	}
	return n
}
