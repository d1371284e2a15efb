// Package kit holds the small transport-agnostic plumbing shared by the
// server surfaces: the Endpoint abstraction, middleware chaining, request
// context keys, and the MCP tool adapter.
package kit

import "context"

// Endpoint is one logical operation, independent of transport.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares so the first one listed is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
