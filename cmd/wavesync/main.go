// Command wavesync is the WaveSync transmitter/receiver binary: it
// streams PCM audio from a unix socket onto the network (--tx) or
// receives and plays a stream back (--rx), in sync with any number of
// other receivers on the same channel.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
