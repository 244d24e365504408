package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/seismic-locator/internal/picker"
)

var (
	pickFile    string
	pickChannel string
)

// pickReport is the JSON printed by the pick command.
type pickReport struct {
	Channel    string    `json:"channel"`
	SampleRate float64   `json:"sample_rate"`
	Start      time.Time `json:"start"`
	Onset      int       `json:"onset_index"`
	Trigger    int       `json:"trigger_index"`
	Release    int       `json:"release_index"`
	Seconds    float64   `json:"onset_seconds"`
	Time       time.Time `json:"onset_time"`
}

var pickCmd = &cobra.Command{
	Use:   "pick",
	Short: "Detect the first P-wave onset in one recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pickFile == "" {
			return errors.New("--file is required")
		}
		env := getEnv()

		sig, err := loadSignal(cmd.Context(), pickFile, channelOrDefault(pickChannel), env.logger)
		if err != nil {
			return err
		}
		onset, ok := picker.Pick(sig.Samples, sig.SampleRate, env.cfg.Picker)
		if !ok {
			return errors.New("no onset detected")
		}

		secs := onset.Seconds(sig.SampleRate)
		return writeIndented(cmd.OutOrStdout(), pickReport{
			Channel:    string(sig.Channel),
			SampleRate: sig.SampleRate,
			Start:      sig.Start,
			Onset:      onset.Index,
			Trigger:    onset.Trigger,
			Release:    onset.Release,
			Seconds:    secs,
			Time:       sig.Start.Add(time.Duration(secs * float64(time.Second))),
		})
	},
}

func init() {
	pickCmd.Flags().StringVar(&pickFile, "file", "", "miniSEED file")
	pickCmd.Flags().StringVar(&pickChannel, "channel", "", "Channel (default from CHANNEL)")
}
