package gtp

import (
	"context"
	"strings"
)

// Capabilities is the engine's discovered GTP dialect profile.
type Capabilities struct {
	KgsTimeSettings  bool
	KataTimeSettings bool
	FischerCapped    bool
	Commands         map[string]bool
}

func (c Capabilities) Supports(command string) bool {
	return c.Commands[command]
}

// Discover runs the post-spawn handshake: list_commands, and when the
// engine is a KataGo flavor, kata-list_time_settings. Completing the
// handshake moves the adapter from Spawning to Ready.
func (e *Engine) Discover(ctx context.Context) error {
	body, err := e.Command(ctx, "list_commands")
	if err != nil {
		return err
	}

	caps := Capabilities{Commands: make(map[string]bool)}
	for _, line := range strings.Split(body, "\n") {
		if cmd := strings.TrimSpace(line); cmd != "" {
			caps.Commands[cmd] = true
		}
	}
	caps.KgsTimeSettings = caps.Commands["kgs-time_settings"]
	caps.KataTimeSettings = caps.Commands["kata-time_settings"]

	if caps.Commands["kata-list_time_settings"] {
		settings, err := e.Command(ctx, "kata-list_time_settings")
		if err != nil {
			return err
		}
		caps.FischerCapped = strings.Contains(settings, "fischer-capped")
	}

	e.mu.Lock()
	e.caps = caps
	e.mu.Unlock()

	e.log.Infof("engine capabilities: kgs=%v kata=%v fischer-capped=%v (%d commands)",
		caps.KgsTimeSettings, caps.KataTimeSettings, caps.FischerCapped, len(caps.Commands))
	return nil
}
