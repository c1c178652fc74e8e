package store

import (
	"shopscout.app/research/core/db"
)

// Stores provides typed accessors bound to a Querier, so the same
// accessors work against the pool or inside a transaction.
type Stores struct {
	q db.Querier
}

func NewStores(q db.Querier) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Jobs() JobStore {
	return newJobStore(s.q)
}
