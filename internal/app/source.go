package app

import (
	"fmt"

	"github.com/MrWong99/pcmwire/internal/config"
	"github.com/MrWong99/pcmwire/pkg/audio/host"
)

// OpenSource is the default [SourceFactory]. Tone and silence sources run for
// cfg.Duration, or until stopped when it is zero. File and MP3 sources end
// with their input.
func OpenSource(cfg config.SourceConfig, sampleRate int) (host.Source, error) {
	limit := int64(cfg.Duration.Seconds() * float64(sampleRate))

	switch cfg.Kind {
	case config.SourceTone:
		src, err := host.NewToneSource(cfg.Frequency, cfg.Amplitude, sampleRate, limit)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SourceSilence:
		return host.NewSilenceSource(limit), nil
	case config.SourceFile:
		src, err := host.OpenFloat32File(cfg.Path)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SourceMP3:
		src, err := host.OpenMP3File(cfg.Path, sampleRate)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("app: unknown source kind %q", cfg.Kind)
	}
}
