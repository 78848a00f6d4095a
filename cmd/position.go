package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	gtfslib "transitnav.dev/gtfs"
	"transitnav.dev/gtfs/catalog"
)

var positionCmd = &cobra.Command{
	Use:   "position <trip_id> <seconds_since_midnight>",
	Short: "Prints a trip's interpolated position at a given time",
	Args:  cobra.ExactArgs(2),
	RunE:  position,
}

func position(cmd *cobra.Command, args []string) error {
	tripID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid trip id: %w", err)
	}

	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid time: %w", err)
	}

	c, err := loadCachedCatalog()
	if err != nil {
		return err
	}

	n := gtfslib.NewNavigator(c)

	ip, err := n.TripPosition(catalog.TripID(tripID))
	if err != nil {
		return err
	}

	pos := ip.PositionAt(seconds)
	fmt.Printf("%.6f,%.6f\n", pos.Lat, pos.Lon)

	return nil
}
