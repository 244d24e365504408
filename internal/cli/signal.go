package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/seismic-locator/internal/domain"
	"github.com/couchcryptid/seismic-locator/internal/waveform"
)

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// loadSignal decodes a miniSEED file and returns one merged channel.
func loadSignal(ctx context.Context, path string, ch domain.Channel, logger *slog.Logger) (domain.ChannelSignal, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.ChannelSignal{}, fmt.Errorf("open waveform: %w", err)
	}
	defer f.Close()

	st := domain.Station{Code: filepath.Base(path)}
	blocks, _, err := waveform.ReadStation(ctx, f, st, logger)
	if err != nil {
		return domain.ChannelSignal{}, err
	}
	merged, err := waveform.Merge(blocks)
	if err != nil {
		return domain.ChannelSignal{}, err
	}
	return waveform.Select(merged, ch)
}

func channelOrDefault(flag string) domain.Channel {
	if flag != "" {
		return domain.Channel(flag)
	}
	return getEnv().cfg.Channel
}
