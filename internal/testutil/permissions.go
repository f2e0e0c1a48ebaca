package testutil

import (
	"context"
	"sync"

	"cr-go/internal/cr"
)

// StubPermissions allows everything except the rules added with Deny.
type StubPermissions struct {
	mu    sync.Mutex
	deny  map[denyRule]bool
	calls int
}

type denyRule struct {
	principal cr.Principal
	action    cr.Action
	channel   cr.NodeID
}

func NewStubPermissions() *StubPermissions {
	return &StubPermissions{deny: make(map[denyRule]bool)}
}

// Deny forbids action for principal when operating in channel.
func (p *StubPermissions) Deny(principal cr.Principal, action cr.Action, channel cr.NodeID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deny[denyRule{principal, action, channel}] = true
}

// Calls returns how many checks have been answered.
func (p *StubPermissions) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *StubPermissions) HasPermission(_ context.Context, principal cr.Principal, obj *cr.Object, action cr.Action, channel cr.NodeID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if channel == 0 {
		channel = obj.NodeID
	}
	return !p.deny[denyRule{principal, action, channel}], nil
}

var _ cr.PermissionEvaluator = (*StubPermissions)(nil)
