// Package browsertest provides an in-memory browser.Factory for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/leadmify/agent/internal/browser"
)

// Send records one SendMessage call
type Send struct {
	Path      string
	Recipient string
	Text      string
}

// Factory creates fake resources and records everything they do
type Factory struct {
	// CreateErr, when set, is consulted before every Create
	CreateErr func(path string) error
	// Outcome, when set, decides each send; the default is browser.Sent
	Outcome func(path, recipient string) (browser.Outcome, error)
	// Unread maps profile paths to unread counts
	Unread map[string]int
	// OnSend runs after each recorded send
	OnSend func(r *Resource, recipient string)

	mu        sync.Mutex
	created   map[string]int
	resources []*Resource
	sends     []Send
}

// NewFactory creates a fake factory
func NewFactory() *Factory {
	return &Factory{
		Unread:  make(map[string]int),
		created: make(map[string]int),
	}
}

// Create implements browser.Factory
func (f *Factory) Create(ctx context.Context, path string, opts browser.Options) (browser.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.CreateErr != nil {
		if err := f.CreateErr(path); err != nil {
			return nil, fmt.Errorf("%w: %v", browser.ErrResource, err)
		}
	}

	r := &Resource{factory: f, path: path, headed: opts.Headed, alive: true}
	f.mu.Lock()
	f.created[path]++
	f.resources = append(f.resources, r)
	f.mu.Unlock()
	return r, nil
}

// Created returns how many resources were created for path
func (f *Factory) Created(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[path]
}

// Sends returns every recorded send in call order
func (f *Factory) Sends() []Send {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Send(nil), f.sends...)
}

// Resources returns every resource created so far
func (f *Factory) Resources() []*Resource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Resource(nil), f.resources...)
}

// OpenCount returns how many created resources are still open
func (f *Factory) OpenCount() int {
	n := 0
	for _, r := range f.Resources() {
		if !r.Closed() {
			n++
		}
	}
	return n
}

// Resource is a fake browser.Resource
type Resource struct {
	factory *Factory
	path    string
	headed  bool

	mu     sync.Mutex
	alive  bool
	closed bool
}

// Path implements browser.Resource
func (r *Resource) Path() string { return r.path }

// Headed reports whether the resource was created visible
func (r *Resource) Headed() bool { return r.headed }

// Alive implements browser.Resource
func (r *Resource) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive && !r.closed
}

// Kill makes the resource report itself dead without closing it
func (r *Resource) Kill() {
	r.mu.Lock()
	r.alive = false
	r.mu.Unlock()
}

// Closed reports whether Close was called
func (r *Resource) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// SendMessage implements browser.Resource
func (r *Resource) SendMessage(ctx context.Context, recipient, text string) (browser.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return browser.Rejected, err
	}
	if !r.Alive() {
		return browser.Rejected, fmt.Errorf("%w: resource is dead", browser.ErrResource)
	}

	outcome := browser.Sent
	if r.factory.Outcome != nil {
		var err error
		outcome, err = r.factory.Outcome(r.path, recipient)
		if err != nil {
			return outcome, err
		}
	}

	r.factory.mu.Lock()
	r.factory.sends = append(r.factory.sends, Send{Path: r.path, Recipient: recipient, Text: text})
	r.factory.mu.Unlock()

	if r.factory.OnSend != nil {
		r.factory.OnSend(r, recipient)
	}
	return outcome, nil
}

// UnreadCount implements browser.Resource
func (r *Resource) UnreadCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.factory.mu.Lock()
	defer r.factory.mu.Unlock()
	return r.factory.Unread[r.path], nil
}

// Close implements browser.Resource
func (r *Resource) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
