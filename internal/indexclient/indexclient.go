// Package indexclient defines the route-discovery collaborator spec.md §9's
// GLOSSARY names "IndexClient": given a destination and a currency, it
// returns candidate FriendsRoutes for the Funder to attempt a payment over.
// A real implementation (querying an external index/directory service) is
// out of scope per spec.md §1; this package only fixes the interface and
// an in-memory double for tests, grounded on the shape of
// original_source/components/index_client/src/client.rs (RequestRoutes).
package indexclient

import (
	"context"
	"math/big"

	"github.com/go-errors/errors"
	"github.com/meshcredit/fundd/internal/mutualcredit"
)

// ErrNoRoute is returned when no candidate route can be found.
var ErrNoRoute = errors.New("indexclient: no route found")

// Client discovers candidate routes to a destination for a currency,
// carrying at least capacity credits of spendable capacity.
type Client interface {
	RequestRoutes(ctx context.Context, dest mutualcredit.PublicKey, currency mutualcredit.Currency, capacity *big.Int) ([]mutualcredit.Route, error)
}

// Static is an in-memory Client double: it returns whatever route a test
// wired up for (dest, currency), regardless of capacity. Grounded on the
// teacher's routing.MissionControl test doubles (fixed responses keyed by
// destination, no live pathfinding).
type Static struct {
	routes map[key][]mutualcredit.Route
}

type key struct {
	dest     mutualcredit.PublicKey
	currency mutualcredit.Currency
}

// NewStatic creates an empty Static client.
func NewStatic() *Static {
	return &Static{routes: make(map[key][]mutualcredit.Route)}
}

// SetRoutes registers the routes Static should return for (dest, currency).
func (s *Static) SetRoutes(dest mutualcredit.PublicKey, currency mutualcredit.Currency, routes []mutualcredit.Route) {
	s.routes[key{dest, currency}] = routes
}

// RequestRoutes implements Client.
func (s *Static) RequestRoutes(_ context.Context, dest mutualcredit.PublicKey, currency mutualcredit.Currency, _ *big.Int) ([]mutualcredit.Route, error) {
	routes, ok := s.routes[key{dest, currency}]
	if !ok || len(routes) == 0 {
		return nil, ErrNoRoute
	}
	return routes, nil
}
