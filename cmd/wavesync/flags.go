package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/blaa/wavesync-go/internal/config"
)

// rxRequested backs the boolean --rx flag; config.Settings.Mode is
// derived from it and --tx once all flags are parsed (see
// setupFlags's PreRunE), mirroring cli_args.py's
// `(args.tx is None) == (args.rx is False)` mutual-exclusion check.
var rxRequested bool

// setupFlags binds every flag from cli_args.py's args_sender/
// args_receiver/args_common/args_actions groups, following the
// teacher's cmd/realtime/realtime.go pattern of StringVar/BoolVar/
// IntVar against viper-sourced defaults followed by a single
// viper.BindPFlags call.
func setupFlags(cmd *cobra.Command, settings *config.Settings) error {
	flags := cmd.Flags()

	// Actions
	flags.StringVar(&settings.TX.Input, "tx", "", "transmit sound read from a given unix socket")
	flags.BoolVar(&rxRequested, "rx", false, "receive sound and play it")

	// Sender options
	flags.BoolVar(&settings.TX.LocalPlay, "local-play", false, "also play sound locally while transmitting")
	flags.IntVar(&settings.TX.PayloadSize, "payload-size", settings.TX.PayloadSize, "UDP payload size in bytes")
	flags.IntVar(&settings.TX.TTL, "ttl", settings.TX.TTL, "multicast TTL")
	flags.IntVar(&settings.TX.CompressLevel, "compress", 0, "enable zlib compression (level 1-9, 0 disables)")
	noLoop := false
	flags.BoolVar(&noLoop, "no-loop", false, "do not loop multicast packets back to the sender")
	flags.BoolVar(&settings.TX.Broadcast, "broadcast", false, "use broadcast transmission")
	flags.IntVar(&settings.TX.Rate, "rate", settings.TX.Rate, "sample rate in Hz")
	flags.BoolVar(&settings.TX.Sample24Bit, "24bits", false, "use 24-bit samples (default 16-bit)")
	flags.IntVar(&settings.TX.Channels, "channels", settings.TX.Channels, "number of audio channels (1 or 2)")

	// Receiver options
	flags.IntVar(&settings.RX.ToleranceMs, "tolerance", settings.RX.ToleranceMs, "playback error tolerance in milliseconds")
	flags.IntVar(&settings.RX.SinkLatencyMs, "sink-latency", settings.RX.SinkLatencyMs, "local sink latency in milliseconds")
	flags.IntVar(&settings.RX.BufferSizeFrames, "buffer-size", settings.RX.BufferSizeFrames, "local output buffer size in frames")
	flags.IntVar(&settings.RX.DeviceIndex, "device-index", settings.RX.DeviceIndex, "audio device index for playback")

	// Common options
	flags.StringArrayVar(&settings.Channels, "channel", nil, "multicast group or unicast ADDRESS:PORT; may repeat for --tx")
	flags.IntVar(&settings.LatencyMs, "latency", settings.LatencyMs, "end-to-end synchronization latency in milliseconds")
	flags.BoolVar(&settings.Debug, "debug", false, "enable debug logging")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		settings.TX.MulticastLoop = !noLoop
		switch {
		case settings.TX.Input != "" && rxRequested:
			return fmt.Errorf("--tx and --rx are mutually exclusive")
		case settings.TX.Input != "":
			settings.Mode = config.ModeTX
		case rxRequested:
			settings.Mode = config.ModeRX
		}
		return nil
	}

	return viper.BindPFlags(flags)
}
