//go:build wireinject
// +build wireinject

package trigger

import (
	"context"

	"github.com/google/wire"
)

// NewDeps wires together the pool, logger, and config a host passes to
// Start. Its generated implementation lives in wire_gen.go.
func NewDeps(ctx context.Context, connectionString string) (*Deps, func(), error) {
	panic(wire.Build(Set))
}
