package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	gtfslib "transitnav.dev/gtfs"
	"transitnav.dev/gtfs/catalog"
	"transitnav.dev/gtfs/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Finds journeys between two points",
	RunE:  plan,
}

var (
	fromFlag       string
	toFlag         string
	departureEpoch int64
	maxTransfers   int
	alternatives   int
)

func init() {
	planCmd.Flags().StringVarP(&fromFlag, "from", "", "", "Origin, as lat,lng")
	planCmd.Flags().StringVarP(&toFlag, "to", "", "", "Destination, as lat,lng")
	planCmd.Flags().Int64VarP(&departureEpoch, "departure", "", 0, "Departure time, as Unix epoch seconds")
	planCmd.Flags().IntVarP(&maxTransfers, "max-transfers", "", 3, "Maximum number of transfers to consider")
	planCmd.Flags().IntVarP(&alternatives, "alternatives", "", 3, "Number of journeys to return")
}

func parseLatLng(s string) (lat, lng float64, err error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%q is not on form <lat>,<lng>", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lat in %q: %w", s, err)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid lng in %q: %w", s, err)
	}
	return lat, lng, nil
}

func plan(cmd *cobra.Command, args []string) error {
	fromLat, fromLng, err := parseLatLng(fromFlag)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	toLat, toLng, err := parseLatLng(toFlag)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	c, err := loadCachedCatalog()
	if err != nil {
		return err
	}

	n := gtfslib.NewNavigator(c)

	journeys, err := n.FindJourneys(gtfslib.FindJourneysQuery{
		FromLat:        fromLat,
		FromLng:        fromLng,
		ToLat:          toLat,
		ToLng:          toLng,
		DepartureEpoch: departureEpoch,
		MaxTransfers:   maxTransfers,
		K:              alternatives,
	})
	if err != nil {
		return err
	}

	if len(journeys) == 0 {
		fmt.Println("no journeys found")
		return nil
	}

	for i, journey := range journeys {
		fmt.Printf("journey %d: departs %s, arrives %s (%s)\n", i+1, journey.Departure(), journey.Arrival(), journey.Duration())
		for _, leg := range journey.Legs {
			printLeg(c, leg)
		}
	}

	return nil
}

func printLeg(c *catalog.Catalog, leg planner.Leg) {
	switch l := leg.(type) {
	case planner.RideLeg:
		route := c.Route(l.RouteID)
		from := c.Stop(l.FromStop)
		to := c.Stop(l.ToStop)
		fmt.Printf("  ride %s from %s to %s, %s -> %s\n", route.ShortName, from.Name, to.Name, l.Departure, l.Arrival)
	case planner.WalkLeg:
		fmt.Printf("  walk %.0fm, %s -> %s\n", l.Meters, l.Departure, l.Arrival)
	default:
		fmt.Printf("  unknown leg type %T\n", l)
	}
}
