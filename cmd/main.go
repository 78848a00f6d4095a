package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "gtfs",
	Short:        "Transit journey planner",
	Long:         "Builds, caches and queries a GTFS catalog",
	SilenceUsage: true,
}

var (
	staticURL     string
	staticHeaders []string
	cacheDir      string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&staticURL, "static-url", "", "", "GTFS static feed URL")
	rootCmd.PersistentFlags().StringSliceVarP(
		&staticHeaders,
		"static-header",
		"",
		[]string{},
		"GTFS static HTTP header, on form <key>:<value>",
	)
	rootCmd.PersistentFlags().StringVarP(&cacheDir, "cache-dir", "", "./gtfs-cache", "Directory holding a cached catalog")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(positionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}
