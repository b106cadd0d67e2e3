package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
)

// Capturer produces raw 16-bit little-endian mono PCM from an audio input.
type Capturer interface {
	// Available reports why capture cannot work, or nil.
	Available() error
	// Start begins capturing. Closing the reader stops the capture.
	Start(ctx context.Context) (io.ReadCloser, error)
}

// FFmpegCapture records the microphone with an ffmpeg child process.
type FFmpegCapture struct {
	Binary     string // defaults to "ffmpeg"
	Format     string // ffmpeg input format; defaults per OS
	Device     string // ffmpeg input device; defaults per OS
	SampleRate int    // defaults to 16000
}

// DefaultInput returns the ffmpeg input format and device for the running OS.
func DefaultInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (c FFmpegCapture) binary() string {
	if c.Binary == "" {
		return "ffmpeg"
	}
	return c.Binary
}

// Available checks that the ffmpeg binary can be found.
func (c FFmpegCapture) Available() error {
	if _, err := exec.LookPath(c.binary()); err != nil {
		return fmt.Errorf("%s not found: %w", c.binary(), err)
	}
	return nil
}

// Args returns the ffmpeg arguments used for capture.
func (c FFmpegCapture) Args() []string {
	format, device := DefaultInput()
	if c.Format != "" {
		format = c.Format
	}
	if c.Device != "" {
		device = c.Device
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", format,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	}
}

// Start launches ffmpeg and returns its stdout.
func (c FFmpegCapture) Start(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, c.binary(), c.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &processReader{ReadCloser: stdout, cmd: cmd}, nil
}

type processReader struct {
	io.ReadCloser
	cmd    *exec.Cmd
	readMu sync.Mutex // held while a Read is in flight
	closed atomic.Bool
	once   sync.Once
	err    error
}

func (p *processReader) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	p.readMu.Lock()
	defer p.readMu.Unlock()
	if p.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return p.ReadCloser.Read(b)
}

// Close kills the capture process, waits for a pending Read to return and
// then reaps the process.
func (p *processReader) Close() error {
	p.once.Do(func() {
		p.closed.Store(true)
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		p.readMu.Lock()
		p.readMu.Unlock()

		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			p.err = err
		}
	})
	return p.err
}
