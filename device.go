package main

import (
	"errors"
	"fmt"
	"io"

	"callscribe/audio"
	"callscribe/config"
)

// setupDevices runs the interactive picker for both endpoints and stores the
// choices as device overrides. A cancelled pick keeps the platform default.
func setupDevices(actx audio.Context, cfg *config.AudioConfig, out io.Writer) error {
	for _, loopback := range []bool{false, true} {
		label := "microphone"
		if loopback {
			label = "loopback"
		}
		fmt.Fprintf(out, "Select %s device\n", label)
		dev, err := audio.SelectDevice(actx, loopback)
		if errors.Is(err, audio.ErrSelectionCancelled) {
			fmt.Fprintf(out, "Keeping default %s device\n", label)
			continue
		}
		if err != nil {
			return fmt.Errorf("%s selection: %w", label, err)
		}
		fmt.Fprintf(out, "Using %s device: %s\n", label, dev.Name)
		if loopback {
			cfg.LoopbackDevice = dev.Name
		} else {
			cfg.MicDevice = dev.Name
		}
	}
	return nil
}

func listDevices(actx audio.Context, out io.Writer) error {
	devices, err := actx.Devices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Fprintln(out, "no capture devices found")
		return nil
	}
	for _, d := range devices {
		kind := "input"
		if d.Loopback {
			kind = "loopback"
		}
		fmt.Fprintf(out, "%-9s %s\n", kind, d.Name)
	}
	return nil
}
