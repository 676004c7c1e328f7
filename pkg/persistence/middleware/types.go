// Package middleware wraps a ports.DurableStore to add behavior, such as
// encrypting the contexts the engine parks in work packages.
package middleware

import "github.com/aretw0/fantasm/pkg/ports"

// Middleware allows wrapping a DurableStore to add behavior.
type Middleware func(ports.DurableStore) ports.DurableStore

// Chain applies mws to store; the first middleware is the outermost.
func Chain(store ports.DurableStore, mws ...Middleware) ports.DurableStore {
	for i := len(mws) - 1; i >= 0; i-- {
		store = mws[i](store)
	}
	return store
}
