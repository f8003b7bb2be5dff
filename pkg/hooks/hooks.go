// Package hooks calls the optional lifecycle callbacks a plugin entry point may implement.
package hooks

import (
	"context"
	"fmt"
)

// Name identifies a lifecycle hook.
type Name string

const (
	Activate    Name = "activate"
	Activated   Name = "activated"
	Deactivate  Name = "deactivate"
	Deactivated Name = "deactivated"
	Remove      Name = "remove"
	Removed     Name = "removed"
	Updating    Name = "updating"
	Updated     Name = "updated"
)

// Order is the fixed order hooks fire in across a plugin's life.
var Order = []Name{Activate, Activated, Deactivate, Deactivated, Remove, Removed, Updating, Updated}

// Optional interfaces an entry point may implement, one per hook.
type (
	Activator interface {
		Activate(ctx context.Context) error
	}
	ActivatedHandler interface {
		Activated(ctx context.Context) error
	}
	Deactivator interface {
		Deactivate(ctx context.Context) error
	}
	DeactivatedHandler interface {
		Deactivated(ctx context.Context) error
	}
	Remover interface {
		Remove(ctx context.Context) error
	}
	RemovedHandler interface {
		Removed(ctx context.Context) error
	}
	UpdatingHandler interface {
		Updating(ctx context.Context) error
	}
	UpdatedHandler interface {
		Updated(ctx context.Context) error
	}
)

// HookTarget exposes capability checks so unimplemented hooks resolve to no-ops.
type HookTarget interface {
	HasHook(name Name) bool
	CallHook(ctx context.Context, name Name) error
}

// Target adapts an entry point object to HookTarget.
func Target(obj any) HookTarget {
	if t, ok := obj.(HookTarget); ok {
		return t
	}
	return objectTarget{obj: obj}
}

type objectTarget struct {
	obj any
}

func (t objectTarget) fn(name Name) func(context.Context) error {
	switch name {
	case Activate:
		if h, ok := t.obj.(Activator); ok {
			return h.Activate
		}
	case Activated:
		if h, ok := t.obj.(ActivatedHandler); ok {
			return h.Activated
		}
	case Deactivate:
		if h, ok := t.obj.(Deactivator); ok {
			return h.Deactivate
		}
	case Deactivated:
		if h, ok := t.obj.(DeactivatedHandler); ok {
			return h.Deactivated
		}
	case Remove:
		if h, ok := t.obj.(Remover); ok {
			return h.Remove
		}
	case Removed:
		if h, ok := t.obj.(RemovedHandler); ok {
			return h.Removed
		}
	case Updating:
		if h, ok := t.obj.(UpdatingHandler); ok {
			return h.Updating
		}
	case Updated:
		if h, ok := t.obj.(UpdatedHandler); ok {
			return h.Updated
		}
	}
	return nil
}

func (t objectTarget) HasHook(name Name) bool {
	return t.obj != nil && t.fn(name) != nil
}

func (t objectTarget) CallHook(ctx context.Context, name Name) error {
	fn := t.fn(name)
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// HookError is returned when a propagating hook fails.
type HookError struct {
	Plugin string
	Hook   Name
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("plugin %s: %s hook failed: %v", e.Plugin, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
