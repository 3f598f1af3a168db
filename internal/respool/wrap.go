package respool

import (
	"context"
	"strings"

	"peerpool/internal/eventbus"
	"peerpool/pkg/logx"
)

// CPU wraps fn so every call runs on m's CPU pool. A call made from inside a
// CPU task runs directly on the caller.
func CPU[A, T any](m *Manager, name string, fn func(context.Context, A) (T, error)) func(context.Context, A) (T, error) {
	return func(ctx context.Context, a A) (T, error) {
		var zero T
		res := new(T)
		err := m.SubmitCPU(ctx, name, func(c context.Context) error {
			v, err := fn(c, a)
			*res = v
			return err
		})
		if err != nil {
			return zero, err
		}
		return *res, nil
	}
}

// PathFunc extracts the filesystem path an IO call works on. ok is false when
// the argument carries no path.
type PathFunc[A any] func(a A) (path string, ok bool)

// IO wraps fn so every call is admitted by the device semaphore of the path
// pathOf finds in its argument. Without a path the call runs unthrottled and
// a rate-limited warning is logged.
func IO[A, T any](m *Manager, name string, pathOf PathFunc[A], fn func(context.Context, A) (T, error), opts ...IOOption) func(context.Context, A) (T, error) {
	return func(ctx context.Context, a A) (T, error) {
		var path string
		var ok bool
		if pathOf != nil {
			path, ok = pathOf(a)
		}
		if !ok || strings.TrimSpace(path) == "" {
			m.missingPath(name)
			return fn(ctx, a)
		}

		var zero T
		res := new(T)
		err := m.SubmitIO(ctx, path, name, func(c context.Context) error {
			v, err := fn(c, a)
			*res = v
			return err
		}, opts...)
		if err != nil {
			return zero, err
		}
		return *res, nil
	}
}

func (m *Manager) missingPath(name string) {
	m.warn.Warn(m.log, "missing_path:"+name, "io task has no path parameter; running unthrottled", logx.String("op", name))
	eventbus.Emit(m.bus, eventbus.TypeMissingPathParam, name)
}

// PathArg uses the argument itself as the path.
func PathArg[A ~string]() PathFunc[A] {
	return func(a A) (string, bool) { return string(a), a != "" }
}
