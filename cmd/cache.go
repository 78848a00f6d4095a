package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/spf13/cobra"

	"transitnav.dev/gtfs/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persisted catalog cache",
}

var cacheBuildCmd = &cobra.Command{
	Use:   "build <feed.zip>",
	Short: "Builds a catalog cache from a local GTFS static zip",
	Args:  cobra.ExactArgs(1),
	RunE:  cacheBuild,
}

func init() {
	cacheCmd.AddCommand(cacheBuildCmd)
}

func cacheBuild(cmd *cobra.Command, args []string) error {
	buf, err := ioutil.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", cacheDir, err)
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
