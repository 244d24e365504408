package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/locator"
	"github.com/couchcryptid/seismic-locator/internal/pipeline"
)

var (
	locateStations []string
	locateJobFile  string
	locateEventID  string
	locateChannel  string
	locateSpeed    float64
	locateResample bool
	locateChartDir string
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Locate one event from three station recordings",
	Example: `  quakeloc locate \
    --station IU.ANMO:34.946:-106.457:anmo.mseed \
    --station US.ISCO:35.400:-105.900:isco.mseed \
    --station N4.Z13A:34.600:-105.800:z13a.mseed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env := getEnv()

		job, err := buildJob()
		if err != nil {
			return err
		}
		if err := job.Validate(); err != nil {
			return err
		}

		speed := env.cfg.WaveSpeed
		if locateSpeed > 0 {
			speed = locateSpeed
		}
		loc := locator.New(env.cfg.Picker, speed, locateResample || env.cfg.Resample, env.logger)

		opts := []pipeline.Option{pipeline.WithLocalFiles()}
		chartDir := env.cfg.ChartDir
		if locateChartDir != "" {
			chartDir = locateChartDir
		}
		if chartDir != "" {
			opts = append(opts, pipeline.WithChartDir(chartDir))
		}

		res := pipeline.NewLocateTransformer(loc, env.cfg.Channel, env.metrics, env.logger, opts...).Locate(cmd.Context(), job)
		if err := writeIndented(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		if res.Status != domain.StatusLocated {
			return fmt.Errorf("locate failed at %s: %s", res.Stage, res.Error)
		}
		return nil
	},
}

func init() {
	locateCmd.Flags().StringArrayVar(&locateStations, "station", nil, "Station as NET.STA:lat:lon:file; give three, anchor first")
	locateCmd.Flags().StringVar(&locateJobFile, "job", "", "Read a JSON locate job instead of --station flags")
	locateCmd.Flags().StringVar(&locateEventID, "event-id", "", "Event identifier for the result")
	locateCmd.Flags().StringVar(&locateChannel, "channel", "", "Channel to locate on (default from CHANNEL)")
	locateCmd.Flags().Float64Var(&locateSpeed, "speed", 0, "Wave speed in km/s (default from WAVE_SPEED_KMS)")
	locateCmd.Flags().BoolVar(&locateResample, "resample", false, "Condition every station even when rates agree")
	locateCmd.Flags().StringVar(&locateChartDir, "chart-dir", "", "Write diagnostic plots into this directory")
}

func buildJob() (domain.LocateJob, error) {
	var job domain.LocateJob
	switch {
	case locateJobFile != "" && len(locateStations) > 0:
		return job, errors.New("--job and --station are mutually exclusive")
	case locateJobFile != "":
		data, err := readInput(locateJobFile)
		if err != nil {
			return job, err
		}
		job, err = domain.ParseLocateJob(domain.RawEvent{Value: data})
		if err != nil {
			return job, err
		}
	default:
		for _, s := range locateStations {
			st, err := parseStationFlag(s)
			if err != nil {
				return job, err
			}
			job.Stations = append(job.Stations, st)
		}
		job.EventID = "cli"
	}

	if locateEventID != "" {
		job.EventID = locateEventID
	}
	if locateChannel != "" {
		job.Channel = domain.Channel(locateChannel)
	}
	return job, nil
}

// parseStationFlag reads NET.STA:lat:lon:file. The file part may itself
// contain colons.
func parseStationFlag(s string) (domain.JobStation, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 || parts[3] == "" {
		return domain.JobStation{}, fmt.Errorf("station %q: want NET.STA:lat:lon:file", s)
	}
	network, code, err := domain.ParseStationKey(parts[0])
	if err != nil {
		return domain.JobStation{}, fmt.Errorf("station %q: %w", s, err)
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || lat < -90 || lat > 90 {
		return domain.JobStation{}, fmt.Errorf("station %q: invalid latitude", s)
	}
	lon, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || lon < -180 || lon > 180 {
		return domain.JobStation{}, fmt.Errorf("station %q: invalid longitude", s)
	}
	return domain.JobStation{
		Station: domain.Station{Network: network, Code: code, Lat: lat, Lon: lon},
		Path:    parts[3],
	}, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
