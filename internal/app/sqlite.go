package app

import (
	"context"

	"costengine/internal/infrastructure/storage/sqlite"
)

// SQLiteStores opens a file-backed store and exposes it as every repository.
func SQLiteStores(ctx context.Context, path string) (Stores, error) {
	s, err := sqlite.Open(ctx, path)
	if err != nil {
		return Stores{}, err
	}
	stores := MemoryStores(s.Store)
	stores.Ping = s.Ping
	stores.Close = func(context.Context) error { return s.Close() }
	return stores, nil
}
