package app

import "costengine/internal/infrastructure/storage/memory"

// MemoryStores exposes an in-memory store as every repository.
func MemoryStores(s *memory.Store) Stores {
	return Stores{
		Tx:        s,
		Catalog:   s,
		Admin:     s,
		Batches:   s,
		Movements: s,
		Receipts:  s,
		Units:     s,
		Outbox:    s,
		Audit:     s,
		Sequences: s,
	}
}
