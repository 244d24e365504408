package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/seismic-locator/internal/adapter/fdsn"
	"github.com/couchcryptid/seismic-locator/internal/catalog"
)

var (
	catalogFile   string
	catalogMinMag float64
	catalogLat    float64
	catalogLon    float64
	catalogTop    int
	catalogDay    string
	catalogURL    string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Filter a GeoJSON event feed and rank events by distance",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (catalogFile == "") == (catalogDay == "") {
			return errors.New("exactly one of --file or --day is required")
		}

		data, err := catalogFeed(cmd)
		if err != nil {
			return err
		}
		events, err := catalog.Parse(data, catalog.Filter{MinMagnitude: catalogMinMag})
		if err != nil {
			return err
		}
		getEnv().logger.Debug("catalog parsed", "events", len(events))

		if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lon") {
			if catalogTop >= 0 && len(events) > catalogTop {
				events = events[:catalogTop]
			}
			return writeIndented(cmd.OutOrStdout(), events)
		}
		return writeIndented(cmd.OutOrStdout(), catalog.NearestTo(events, catalogLat, catalogLon, catalogTop))
	},
}

func init() {
	catalogCmd.Flags().StringVar(&catalogFile, "file", "", "GeoJSON feed, or - for stdin")
	catalogCmd.Flags().Float64Var(&catalogMinMag, "min-mag", catalog.DefaultMinMagnitude, "Minimum moment magnitude")
	catalogCmd.Flags().Float64Var(&catalogLat, "lat", 0, "Rank by distance from this latitude")
	catalogCmd.Flags().Float64Var(&catalogLon, "lon", 0, "Rank by distance from this longitude")
	catalogCmd.Flags().IntVar(&catalogTop, "top", 10, "Number of events to print; negative prints all")
	catalogCmd.Flags().StringVar(&catalogDay, "day", "", "Download the UTC day's feed (YYYY-MM-DD or today)")
	catalogCmd.Flags().StringVar(&catalogURL, "event-url", fdsn.EMSCBaseURL, "FDSN event service base URL")
}

// catalogFeed reads the feed from --file or downloads one day of events.
func catalogFeed(cmd *cobra.Command) ([]byte, error) {
	if catalogFile != "" {
		return readInput(catalogFile)
	}

	var day time.Time
	if catalogDay == "today" {
		day = time.Now().UTC().Truncate(24 * time.Hour)
	} else {
		var err error
		day, err = time.Parse(time.DateOnly, catalogDay)
		if err != nil {
			return nil, fmt.Errorf("invalid --day %q: %w", catalogDay, err)
		}
	}

	env := getEnv()
	client := fdsn.NewClient(catalogURL, env.cfg.FDSNTimeout, env.metrics, env.logger)
	data, err := client.Events(cmd.Context(), day, day.AddDate(0, 0, 1))
	if errors.Is(err, fdsn.ErrNoData) {
		return []byte(`{"type":"FeatureCollection","features":[]}`), nil
	}
	return data, err
}
