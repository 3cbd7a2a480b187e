package mailstrom

import "context"

// Backend is the outbound delivery port. Implementations are assumed
// stateless and safely callable concurrently; a call resolves to an opaque
// receipt on success or an error carrying the provider's description.
type Backend interface {
	Name() string
	Send(ctx context.Context, msg Message) (receipt string, err error)
}

type backendFunc struct {
	name string
	fn   func(ctx context.Context, msg Message) (string, error)
}

// BackendFunc adapts a plain function to the Backend interface.
func BackendFunc(name string, fn func(ctx context.Context, msg Message) (string, error)) Backend {
	return &backendFunc{name: name, fn: fn}
}

func (b *backendFunc) Name() string { return b.name }

func (b *backendFunc) Send(ctx context.Context, msg Message) (string, error) {
	return b.fn(ctx, msg)
}
