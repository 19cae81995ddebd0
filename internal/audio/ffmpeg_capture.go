package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"nori/internal/domain"
	"nori/internal/ports"
)

// containerArgs maps a file extension to the ffmpeg output arguments that
// produce a streamable container on stdout.
var containerArgs = map[string][]string{
	"webm": {"-c:a", "libopus", "-f", "webm"},
	"ogg":  {"-c:a", "libopus", "-f", "ogg"},
	"mp4":  {"-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
	"m4a":  {"-c:a", "aac", "-movflags", "frag_keyframe+empty_moov", "-f", "mp4"},
	"wav":  {"-f", "wav"},
	"mp3":  {"-c:a", "libmp3lame", "-f", "mp3"},
}

// FFMPEGCapture records the microphone with ffmpeg, either as raw PCM for
// streaming recognition or as an encoded container for upload.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

// RequestAccess reports whether the recorder binary is available.
func (c *FFMPEGCapture) RequestAccess(_ context.Context) error {
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("%w: recorder %q unavailable: %v", domain.ErrPermissionDenied, c.command, err)
	}
	return nil
}

func (c *FFMPEGCapture) SupportsFormat(format domain.AudioFormat) bool {
	_, ok := containerArgs[normalizeExtension(format.Extension)]
	return ok
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	args, err := buildArgs(cfg)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// Stdout goes through an io.Pipe so Wait returns only after every byte,
	// including the container trailer written on interrupt, was read.
	stdout, stdoutWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	cmd.WaitDelay = 500 * time.Millisecond

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = stdoutWriter.Close()
		waitErr <- err
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = stdout.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegSession{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func buildArgs(cfg ports.AudioConfig) ([]string, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
	}

	ext := normalizeExtension(cfg.Format.Extension)
	if ext == "" {
		return append(args, "-f", "s16le", "-"), nil
	}
	output, ok := containerArgs[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNoSupportedFormat, cfg.Format.Extension)
	}
	args = append(args, output...)
	return append(args, "-"), nil
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

type ffmpegSession struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegSession) Close() error {
	err := s.Stop()
	_ = s.stdout.Close()
	return err
}

// Stop interrupts ffmpeg so encoded containers get their trailer, then kills
// it if it does not exit in time.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			// Unblock the copy if nobody is draining stdout any more.
			_ = s.stdout.Close()
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) || errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}
