// Package audiosink implements the AudioSink abstraction from spec.md
// section 6: open/write/get_write_available/close around a sound-card
// output stream, with a device index of -1 bypassing the hardware for
// unit tests while still computing the sizes derived from AudioConfig.
//
// Grounded on audio_output.py's AudioOutput (derived chunk_frames/
// silent buffer sizing, the device_index == -1 test bypass) and on the
// malgo backend-selection and context/device lifecycle pattern from the
// audiocore/sources/malgo package, adapted from capture to playback.
package audiosink

import (
	"runtime"
	"sync"

	"github.com/blaa/wavesync-go/internal/audioconfig"
	"github.com/blaa/wavesync-go/internal/errors"
	"github.com/gen2brain/malgo"
	"github.com/smallnest/ringbuffer"
)

// Sink is a cross-platform sound-card output stream. It is safe for
// concurrent use: Write/GetWriteAvailable are called from the player
// goroutine while the hardware calls onPlayback from its own thread.
type Sink struct {
	mu sync.Mutex

	config           audioconfig.Config
	deviceIndex      int
	bufferSizeFrames int
	chunkFrames      int
	testMode         bool

	ctx    *malgo.AllocatedContext
	device *malgo.Device
	ring   *ringbuffer.RingBuffer
}

// New returns an unopened Sink.
func New() *Sink {
	return &Sink{}
}

// Open configures and, unless deviceIndex is -1, starts the output
// stream. A deviceIndex of -1 is the "test mode" from spec.md section 6:
// derived sizes (chunk_frames, the silence buffer) are still computed so
// callers can exercise sizing logic, but no hardware is touched.
func (s *Sink) Open(config audioconfig.Config, deviceIndex int, bufferSizeFrames int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = config
	s.deviceIndex = deviceIndex
	s.bufferSizeFrames = bufferSizeFrames

	frameSize := config.FrameSize()
	if frameSize <= 0 {
		return errors.New(nil).
			Component("audiosink").
			Category(errors.CategoryValidation).
			Context("frame_size", frameSize).
			Build()
	}
	s.chunkFrames = config.ChunkSizeBytes / frameSize

	if deviceIndex == -1 {
		s.testMode = true
		return nil
	}
	s.testMode = false

	backend, err := backendForPlatform()
	if err != nil {
		return err
	}

	ctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component("audiosink").
			Category(errors.CategoryAudio).
			Context("operation", "init_context").
			Build()
	}

	devices, err := ctx.Devices(malgo.Playback)
	if err != nil {
		_ = ctx.Uninit()
		return errors.New(err).
			Component("audiosink").
			Category(errors.CategoryAudio).
			Context("operation", "enumerate_playback_devices").
			Build()
	}
	deviceInfo, err := selectDevice(devices, deviceIndex)
	if err != nil {
		_ = ctx.Uninit()
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = formatForSampleBits(config.SampleBits)
	deviceConfig.Playback.Channels = uint32(config.Channels)
	deviceConfig.Playback.DeviceID = deviceInfo.ID.Pointer()
	deviceConfig.SampleRate = uint32(config.Rate)
	deviceConfig.PeriodSizeInFrames = uint32(bufferSizeFrames)
	deviceConfig.Alsa.NoMMap = 1

	// A few buffers of slack so the hardware callback never has to block
	// waiting on the player goroutine.
	s.ring = ringbuffer.New(frameSize * bufferSizeFrames * 4)

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onPlayback,
	})
	if err != nil {
		_ = ctx.Uninit()
		return errors.New(err).
			Component("audiosink").
			Category(errors.CategoryAudio).
			Context("operation", "init_device").
			Context("device_index", deviceIndex).
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		return errors.New(err).
			Component("audiosink").
			Category(errors.CategoryAudio).
			Context("operation", "start_device").
			Build()
	}

	s.ctx = ctx
	s.device = device
	return nil
}

// Write submits PCM data for playback. In test mode it is a no-op that
// reports the entire buffer as written, matching audio_output.py's
// behaviour of computing sizes without a live stream.
func (s *Sink) Write(data []byte) (int, error) {
	s.mu.Lock()
	testMode := s.testMode
	ring := s.ring
	s.mu.Unlock()

	if testMode {
		return len(data), nil
	}

	n, err := ring.Write(data)
	if err != nil {
		return n, errors.New(err).
			Component("audiosink").
			Category(errors.CategorySink).
			Context("operation", "write").
			Build()
	}
	return n, nil
}

// GetWriteAvailable returns the number of whole frames that can
// currently be written without blocking.
func (s *Sink) GetWriteAvailable() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.testMode {
		return s.bufferSizeFrames, nil
	}

	frameSize := s.config.FrameSize()
	if frameSize <= 0 || s.ring == nil {
		return 0, errors.New(nil).
			Component("audiosink").
			Category(errors.CategoryState).
			Context("error", "sink not open").
			Build()
	}
	return s.ring.Free() / frameSize, nil
}

// Close stops and releases the output stream. Safe to call in test mode.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.testMode || s.device == nil {
		return nil
	}

	_ = s.device.Stop()
	s.device.Uninit()
	if s.ctx != nil {
		_ = s.ctx.Uninit()
	}
	s.device = nil
	s.ctx = nil
	s.ring = nil
	return nil
}

// onPlayback is malgo's pull callback: it fills pOutputSample with
// whatever is queued, padding with silence when the player has not kept
// the ring buffer fed. This is what lets Write/GetWriteAvailable behave
// like the blocking PyAudio stream the original player was written
// against, even though miniaudio's native model is callback-driven.
func (s *Sink) onPlayback(pOutputSample, _ []byte, _ uint32) {
	s.mu.Lock()
	ring := s.ring
	s.mu.Unlock()

	if ring == nil {
		clear(pOutputSample)
		return
	}

	n, _ := ring.Read(pOutputSample)
	if n < len(pOutputSample) {
		clear(pOutputSample[n:])
	}
}

func backendForPlatform() (malgo.Backend, error) {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa, nil
	case "windows":
		return malgo.BackendWasapi, nil
	case "darwin":
		return malgo.BackendCoreaudio, nil
	default:
		return malgo.BackendNull, errors.New(nil).
			Component("audiosink").
			Category(errors.CategoryAudio).
			Context("os", runtime.GOOS).
			Context("error", "unsupported operating system").
			Build()
	}
}

func selectDevice(devices []malgo.DeviceInfo, index int) (*malgo.DeviceInfo, error) {
	if index >= 0 && index < len(devices) {
		return &devices[index], nil
	}
	return nil, errors.New(nil).
		Component("audiosink").
		Category(errors.CategoryValidation).
		Context("device_index", index).
		Context("available_devices", len(devices)).
		Build()
}

func formatForSampleBits(bits int) malgo.FormatType {
	if bits == 24 {
		return malgo.FormatS24
	}
	return malgo.FormatS16
}
