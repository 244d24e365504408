package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/seismic-locator/internal/adapter/fdsn"
	"github.com/couchcryptid/seismic-locator/internal/domain"
)

var (
	fetchLat     float64
	fetchLon     float64
	fetchTime    string
	fetchChannel string
	fetchOut     string
	fetchBaseURL string
)

type fetchReport struct {
	Station    domain.Station `json:"station"`
	DistanceKm float64        `json:"distance_km"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Attempts   int            `json:"attempts"`
	Bytes      int            `json:"bytes"`
	Path       string         `json:"path"`
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the origin window from the nearest FDSN station",
	RunE: func(cmd *cobra.Command, args []string) error {
		if fetchTime == "" {
			return errors.New("--time is required")
		}
		originTime, err := time.Parse(time.RFC3339, fetchTime)
		if err != nil {
			return fmt.Errorf("invalid --time: %w", err)
		}
		env := getEnv()

		baseURL := env.cfg.FDSNBaseURL
		if fetchBaseURL != "" {
			baseURL = fetchBaseURL
		}
		client := fdsn.NewClient(baseURL, env.cfg.FDSNTimeout, env.metrics, env.logger)

		ch := channelOrDefault(fetchChannel)
		origin := domain.Origin{Time: originTime.UTC(), Lat: fetchLat, Lon: fetchLon}
		dl, err := fdsn.Fetch(cmd.Context(), client, origin, ch, env.logger)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(fetchOut, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		path := filepath.Join(fetchOut, fmt.Sprintf("%s.%s.mseed", dl.Station.Key(), ch))
		if err := os.WriteFile(path, dl.Data, 0o644); err != nil {
			return fmt.Errorf("write waveform: %w", err)
		}

		return writeIndented(cmd.OutOrStdout(), fetchReport{
			Station:    dl.Station.Station,
			DistanceKm: dl.Station.DistanceKm,
			Start:      dl.Start,
			End:        dl.End,
			Attempts:   dl.Attempts,
			Bytes:      len(dl.Data),
			Path:       path,
		})
	},
}

func init() {
	fetchCmd.Flags().Float64Var(&fetchLat, "lat", 0, "Origin latitude")
	fetchCmd.Flags().Float64Var(&fetchLon, "lon", 0, "Origin longitude")
	fetchCmd.Flags().StringVar(&fetchTime, "time", "", "Origin time, RFC 3339")
	fetchCmd.Flags().StringVar(&fetchChannel, "channel", "", "Channel (default from CHANNEL)")
	fetchCmd.Flags().StringVar(&fetchOut, "out", ".", "Output directory")
	fetchCmd.Flags().StringVar(&fetchBaseURL, "base-url", "", "FDSN web-service root (default from FDSN_BASE_URL)")
}
