package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"transitnav.dev/gtfs/cache"
	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/downloader"
	"transitnav.dev/gtfs/parse"
	"transitnav.dev/gtfs/storage"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Downloads a static feed and writes a catalog cache",
	RunE:  download,
}

var downloadCacheTTL time.Duration

func init() {
	downloadCmd.Flags().DurationVarP(&downloadCacheTTL, "ttl", "", time.Hour, "Reuse a previously downloaded feed within this window")
}

func download(cmd *cobra.Command, args []string) error {
	if staticURL == "" {
		return fmt.Errorf("--static-url is required")
	}

	headers, err := parseHeaders(staticHeaders)
	if err != nil {
		return fmt.Errorf("invalid static header: %w", err)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", cacheDir, err)
	}

	d, err := downloader.NewFilesystem(cacheDir + "/downloads.json")
	if err != nil {
		return fmt.Errorf("opening download cache: %w", err)
	}

	buf, err := d.Get(context.Background(), staticURL, headers, downloader.GetOptions{
		Cache:    true,
		CacheTTL: downloadCacheTTL,
		Timeout:  30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("downloading feed: %w", err)
	}

	c, err := buildCatalog(buf)
	if err != nil {
		return err
	}

	if err := cache.Save(cacheDir, c.Data()); err != nil {
		return fmt.Errorf("saving cache: %w", err)
	}

	fmt.Printf("cached %d stops, %d routes, %d trips in %s\n", c.NumStops(), c.NumRoutes(), c.NumTrips(), cacheDir)

	return nil
}

// buildCatalog parses a static feed zip and builds a Catalog from it,
// landing the parsed feed in an on-disk SQLite database under cacheDir
// before ingestion (the same landing-zone role storage.SQLiteStorage
// plays for the teacher's own CLI).
func buildCatalog(buf []byte) (*catalog.Catalog, error) {
	s, err := storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: cacheDir})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	w, err := s.GetWriter("download")
	if err != nil {
		return nil, fmt.Errorf("opening writer: %w", err)
	}

	if _, err := parse.ParseStatic(w, buf); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing writer: %w", err)
	}

	r, err := s.GetReader("download")
	if err != nil {
		return nil, fmt.Errorf("opening reader: %w", err)
	}

	c, err := catalog.BuildFromReaders(r)
	if err != nil {
		return nil, fmt.Errorf("building catalog: %w", err)
	}

	return c, nil
}
