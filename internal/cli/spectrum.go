package cli

import (
	"errors"
	"slices"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/seismic-locator/internal/dsp"
	"github.com/couchcryptid/seismic-locator/internal/spectral"
)

var (
	spectrumFile    string
	spectrumChannel string
	spectrumTop     int
)

type spectrumReport struct {
	Channel    string          `json:"channel"`
	SampleRate float64         `json:"sample_rate"`
	Samples    int             `json:"samples"`
	FFTLength  int             `json:"fft_length"`
	Resolution float64         `json:"resolution_hz"`
	Dominant   spectral.Peak   `json:"dominant"`
	Peaks      []spectral.Peak `json:"peaks"`
}

var spectrumCmd = &cobra.Command{
	Use:   "spectrum",
	Short: "Print the strongest spectral lines of one recording",
	RunE: func(cmd *cobra.Command, args []string) error {
		if spectrumFile == "" {
			return errors.New("--file is required")
		}
		if spectrumTop <= 0 {
			return errors.New("--top must be greater than zero")
		}
		env := getEnv()

		sig, err := loadSignal(cmd.Context(), spectrumFile, channelOrDefault(spectrumChannel), env.logger)
		if err != nil {
			return err
		}
		x := slices.Clone(sig.Samples)
		dsp.Demean(x)

		s := spectral.Magnitude(x, sig.SampleRate)
		return writeIndented(cmd.OutOrStdout(), spectrumReport{
			Channel:    string(sig.Channel),
			SampleRate: sig.SampleRate,
			Samples:    len(x),
			FFTLength:  s.N,
			Resolution: s.Resolution,
			Dominant:   s.Dominant(),
			Peaks:      s.Top(spectrumTop),
		})
	},
}

func init() {
	spectrumCmd.Flags().StringVar(&spectrumFile, "file", "", "miniSEED file")
	spectrumCmd.Flags().StringVar(&spectrumChannel, "channel", "", "Channel (default from CHANNEL)")
	spectrumCmd.Flags().IntVar(&spectrumTop, "top", 5, "Number of peaks to print")
}
