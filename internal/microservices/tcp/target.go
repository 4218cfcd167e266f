package tcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Target applies a behavior payload to one character owned by the rendering layer.
// The dispatcher only calls ApplyBehavior from the goroutine running Tick.
type Target interface {
	ApplyBehavior(ctx context.Context, payload string) error
}

// TargetFunc adapts a plain function to Target
type TargetFunc func(ctx context.Context, payload string) error

func (f TargetFunc) ApplyBehavior(ctx context.Context, payload string) error {
	return f(ctx, payload)
}

var ErrNilTarget = errors.New("target is nil")

// Registry maps routing keys to targets. It is immutable once built.
type Registry struct {
	targets map[string]Target
}

// NewRegistry copies targets into a new registry
func NewRegistry(targets map[string]Target) (*Registry, error) {
	copied := make(map[string]Target, len(targets))
	for key, target := range targets {
		if target == nil {
			return nil, fmt.Errorf("routing key %q: %w", key, ErrNilTarget)
		}
		copied[key] = target
	}
	return &Registry{targets: copied}, nil
}

// Lookup returns the target registered for key, if any
func (r *Registry) Lookup(key string) (Target, bool) {
	target, ok := r.targets[key]
	return target, ok
}

// Keys returns the registered routing keys in sorted order
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.targets))
	for key := range r.targets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Len() int {
	return len(r.targets)
}
