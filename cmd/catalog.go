package main

import (
	"errors"
	"fmt"

	"transitnav.dev/gtfs/cache"
	"transitnav.dev/gtfs/catalog"
)

// loadCachedCatalog loads the catalog persisted at cacheDir. It does
// not attempt to fetch a fresh feed; callers that hit ErrMissing or
// ErrStale should tell the user to run "download" or "cache build"
// first.
func loadCachedCatalog() (*catalog.Catalog, error) {
	c, err := cache.Load(cacheDir)
	if err != nil {
		if errors.Is(err, cache.ErrMissing) || errors.Is(err, cache.ErrStale) {
			return nil, fmt.Errorf("%w (run 'gtfs download' or 'gtfs cache build' first)", err)
		}
		return nil, err
	}
	return c, nil
}
