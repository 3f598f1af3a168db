package respool

import (
	"context"

	"peerpool/internal/device"
)

// Class is the kind of resource a task runs on.
type Class uint8

const (
	ClassCPU Class = iota + 1
	ClassIO
)

func (c Class) String() string {
	switch c {
	case ClassCPU:
		return "cpu"
	case ClassIO:
		return "io"
	default:
		return "unknown"
	}
}

// scope records one pool task on the current call chain. Scopes are
// immutable and linked to their parent, so a context carries the whole chain
// without shared state.
type scope struct {
	parent *scope
	class  Class
	name   string
	dev    device.ID
}

type scopeKey struct{}

func withScope(ctx context.Context, class Class, name string, dev device.ID) context.Context {
	parent, _ := ctx.Value(scopeKey{}).(*scope)
	return context.WithValue(ctx, scopeKey{}, &scope{parent: parent, class: class, name: name, dev: dev})
}

func scopeOf(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

func (s *scope) inside(class Class) bool {
	for ; s != nil; s = s.parent {
		if s.class == class {
			return true
		}
	}
	return false
}

func (s *scope) holds(dev device.ID) bool {
	for ; s != nil; s = s.parent {
		if s.class == ClassIO && s.dev == dev {
			return true
		}
	}
	return false
}

// Inside reports whether ctx belongs to a task already running under class.
// Calls of the same class made with such a context run on the caller.
func Inside(ctx context.Context, class Class) bool { return scopeOf(ctx).inside(class) }

// Chain lists the pool tasks on ctx's call chain, innermost first.
func Chain(ctx context.Context) []string {
	var out []string
	for s := scopeOf(ctx); s != nil; s = s.parent {
		out = append(out, s.class.String()+":"+s.name)
	}
	return out
}
