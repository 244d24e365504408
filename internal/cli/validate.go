package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/locator"
	"github.com/couchcryptid/seismic-locator/internal/pipeline"
	"github.com/couchcryptid/seismic-locator/internal/waveform"
)

var (
	validateJobs   []string
	validateMisfit float64
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that reference jobs decode and locate near their catalog origin",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(validateJobs) == 0 {
			return errors.New("at least one --job is required")
		}
		if validateMisfit <= 0 {
			return errors.New("--max-misfit-km must be positive")
		}
		env := getEnv()
		out := cmd.OutOrStdout()

		jobs := make([]domain.LocateJob, 0, len(validateJobs))
		schema := &phase{name: "Job schema"}
		for _, path := range validateJobs {
			job, err := loadJob(path)
			if err != nil {
				schema.errorf("%s: %v", path, err)
				continue
			}
			if job.Origin == nil {
				schema.errorf("%s: event %s has no origin to compare against", path, job.EventID)
				continue
			}
			jobs = append(jobs, job)
		}

		loc := locator.New(env.cfg.Picker, env.cfg.WaveSpeed, env.cfg.Resample, env.logger)
		tr := pipeline.NewLocateTransformer(loc, env.cfg.Channel, env.metrics, env.logger, pipeline.WithLocalFiles())

		phases := []*phase{
			schema,
			validateRecordings(cmd.Context(), jobs, env.cfg.Channel),
			validateLocations(cmd.Context(), tr, jobs, validateMisfit),
		}

		fmt.Fprintln(out, "=== Epicenter Validation ===")
		fmt.Fprintln(out)
		allPassed := true
		for _, p := range phases {
			status := "PASS"
			if !p.passed() {
				status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
				allPassed = false
			}
			fmt.Fprintf(out, "  %-32s %s\n", p.name, status)
		}
		fmt.Fprintf(out, "\nJobs: %d read, %d usable\n", len(validateJobs), len(jobs))

		for _, p := range phases {
			if p.passed() {
				continue
			}
			fmt.Fprintf(out, "\n--- %s ---\n", p.name)
			for i, e := range p.errors {
				fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
			}
		}

		if !allPassed {
			return errors.New("validation failed")
		}
		fmt.Fprintln(out, "\nAll validations passed.")
		return nil
	},
}

func init() {
	validateCmd.Flags().StringArrayVar(&validateJobs, "job", nil, "Locate job JSON with an origin; repeatable")
	validateCmd.Flags().Float64Var(&validateMisfit, "max-misfit-km", 10, "Largest accepted distance from the catalog origin")
}

func loadJob(path string) (domain.LocateJob, error) {
	data, err := readInput(path)
	if err != nil {
		return domain.LocateJob{}, err
	}
	return domain.ParseLocateJob(domain.RawEvent{Value: data})
}

// validateRecordings checks that every local recording decodes, carries the
// channel and spans the origin time. FDSN stations are not downloaded.
func validateRecordings(ctx context.Context, jobs []domain.LocateJob, def domain.Channel) *phase {
	p := &phase{name: "Recordings"}
	for _, job := range jobs {
		ch := job.Channel
		if ch == "" {
			ch = def
		}
		for _, st := range job.Stations {
			if st.FDSN != nil {
				continue
			}
			sig, err := decodeJobStation(ctx, st, ch)
			if err != nil {
				p.errorf("%s %s: %v", job.EventID, st.Key(), err)
				continue
			}
			end := sig.Start.Add(sig.Duration())
			if job.Origin.Time.Before(sig.Start) || job.Origin.Time.After(end) {
				p.errorf("%s %s: recording %s..%s does not span origin %s",
					job.EventID, st.Key(), sig.Start.Format("15:04:05"), end.Format("15:04:05"), job.Origin.Time.Format("15:04:05"))
			}
		}
	}
	return p
}

func decodeJobStation(ctx context.Context, st domain.JobStation, ch domain.Channel) (domain.ChannelSignal, error) {
	var r io.Reader
	if len(st.Waveform) > 0 {
		r = bytes.NewReader(st.Waveform)
	} else {
		f, err := os.Open(st.Path)
		if err != nil {
			return domain.ChannelSignal{}, err
		}
		defer f.Close()
		r = f
	}

	blocks, stats, err := waveform.ReadStation(ctx, r, st.Station, getEnv().logger)
	if err != nil {
		return domain.ChannelSignal{}, err
	}
	if stats.Skipped > 0 {
		return domain.ChannelSignal{}, fmt.Errorf("%d damaged records", stats.Skipped)
	}
	merged, err := waveform.Merge(blocks)
	if err != nil {
		return domain.ChannelSignal{}, err
	}
	return waveform.Select(merged, ch)
}

func validateLocations(ctx context.Context, tr *pipeline.LocateTransformer, jobs []domain.LocateJob, maxMisfit float64) *phase {
	p := &phase{name: "Locations"}
	for _, job := range jobs {
		res := tr.Locate(ctx, job)
		switch {
		case res.Status != domain.StatusLocated:
			p.errorf("%s: failed at %s: %s", job.EventID, res.Stage, res.Error)
		case !res.Epicenter.Converged:
			p.errorf("%s: solver did not converge after %d iterations", job.EventID, res.Epicenter.Iterations)
		case res.MisfitKm == nil || *res.MisfitKm > maxMisfit:
			p.errorf("%s: epicenter %.3f,%.3f is %.1f km from origin (max %.1f)",
				job.EventID, res.Epicenter.Lat, res.Epicenter.Lon, misfitOr(res.MisfitKm), maxMisfit)
		}
	}
	return p
}

func misfitOr(m *float64) float64 {
	if m == nil {
		return -1
	}
	return *m
}
