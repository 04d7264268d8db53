package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/media"
	"github.com/BioHazard786/meshcall/internal/mesh"
	"github.com/BioHazard786/meshcall/internal/peernet"
	"github.com/BioHazard786/meshcall/internal/rtc"
)

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, rtc.NewError("load config", "", err)
	}

	if cfg.ForceRelay && cfg.TURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

// NewCallSession wires a call session to the WebRTC network and the
// configured media files.
func NewCallSession(cfg *config.Config, room string, log *slog.Logger) (*mesh.Session, error) {
	svc, err := rtc.NewService(rtc.OptionsFromConfig(cfg, log))
	if err != nil {
		return nil, err
	}

	devices := &media.Devices{
		MicrophonePath: cfg.Media.Microphone,
		CameraPath:     cfg.Media.Camera,
		DisplayPath:    cfg.Media.Display,
		StreamID:       "meshcall-" + room,
		Log:            log,
	}

	return mesh.NewSession(svc, devices, mesh.Options{
		Timing: timing(cfg),
		Logger: log,
	}), nil
}

func timing(cfg *config.Config) mesh.Timing {
	return mesh.Timing{
		SettleDelay:    cfg.Timing.Settle,
		StaggerDelay:   cfg.Timing.Stagger,
		ChannelGrace:   cfg.Timing.Grace,
		ChannelTimeout: cfg.Timing.ChannelTimeout,
	}
}

// explainJoinError turns device and network failures into something a
// person can act on.
func explainJoinError(err error) error {
	switch {
	case errors.Is(err, peernet.ErrPermissionDenied):
		return fmt.Errorf("media access was refused: %w", err)
	case errors.Is(err, peernet.ErrDeviceUnavailable):
		return fmt.Errorf("no usable media device (see --mic/--camera): %w", err)
	case errors.Is(err, mesh.ErrRegistrationLost):
		return fmt.Errorf("could not reach the broker: %w", err)
	default:
		return err
	}
}

// parseRoomInput accepts a bare room name or a room link.
func parseRoomInput(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("room name cannot be empty")
	}

	if strings.Contains(input, "://") || strings.Contains(input, "/") {
		return extractRoomFromURL(input)
	}
	return input, nil
}

func extractRoomFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", rtc.NewError("parse URL", "", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return url.PathUnescape(parts[i+1])
		}
	}

	return "", fmt.Errorf("could not extract room name from URL: %s", urlStr)
}
