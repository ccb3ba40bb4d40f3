package config

import (
	"fmt"
	"strings"
)

// ValidationError aggregates every validation failure, mirroring the
// teacher's conf.ValidationError (conf/validate.go) rather than
// cli_args.py's fail-fast argparse.error calls: collecting everything
// gives the operator one message instead of a loop of re-invocations.
type ValidationError struct {
	Errors []string
}

func (ve *ValidationError) add(format string, args ...any) {
	ve.Errors = append(ve.Errors, fmt.Sprintf(format, args...))
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(ve.Errors, "; "))
}

func errInvalidChannel(raw string) error {
	return fmt.Errorf("channel %q is not in ADDRESS:PORT format", raw)
}

// Validate checks every invariant cli_args.py's parse() enforces:
// exactly one of --tx/--rx, latency bounds (OQ-1: <= 29000 accepted,
// see DESIGN.md), sink latency <= latency, a non-negative device index,
// a single channel for --rx, and well-formed "ADDRESS:PORT" channels.
func (s *Settings) Validate() error {
	ve := ValidationError{}

	switch s.Mode {
	case ModeTX:
		if s.TX.Input == "" {
			ve.add("--tx requires a unix socket path")
		}
	case ModeRX:
		// no RX-specific required field beyond Mode itself
	default:
		ve.add("exactly one of --tx or --rx must be specified")
	}

	if s.LatencyMs < 50 {
		ve.add("latency_ms %d is below the minimum of 50ms", s.LatencyMs)
	} else if s.LatencyMs > 29000 {
		ve.add("latency_ms %d exceeds the maximum of 29000ms", s.LatencyMs)
	}

	if s.RX.SinkLatencyMs > s.LatencyMs {
		ve.add("sink_latency_ms %d cannot exceed latency_ms %d", s.RX.SinkLatencyMs, s.LatencyMs)
	}

	if s.RX.DeviceIndex < 0 {
		ve.add("device_index %d cannot be negative", s.RX.DeviceIndex)
	}

	if s.Mode == ModeRX && len(s.Channels) > 1 {
		ve.add("a receiver accepts only a single --channel")
	}

	if s.TX.Rate <= 0 {
		ve.add("rate %d must be positive", s.TX.Rate)
	}
	if s.TX.Channels != 1 && s.TX.Channels != 2 {
		ve.add("channels %d must be 1 or 2", s.TX.Channels)
	}
	if s.TX.PayloadSize <= 0 {
		ve.add("payload_size %d must be positive", s.TX.PayloadSize)
	}
	if s.TX.CompressLevel < 0 || s.TX.CompressLevel > 9 {
		ve.add("compress level %d must be between 0 and 9", s.TX.CompressLevel)
	}

	channels := s.Channels
	if len(channels) == 0 {
		channels = []string{DefaultChannel}
	}
	for _, ch := range channels {
		if _, _, err := splitChannel(ch); err != nil {
			ve.add("%s", err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return &ve
	}
	return nil
}
