package usecase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"nori/internal/ports"
)

// pumpAudioChunks forwards captured audio to the recognition stream until the
// capture ends.
func pumpAudioChunks(audio ports.AudioSession, stream ports.StreamingSession, chunkSize int) error {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return fmt.Errorf("failed to stream audio: %w", sendErr)
			}
		}
		if err != nil {
			if isCaptureEnd(err) {
				return nil
			}
			return fmt.Errorf("audio capture error: %w", err)
		}
	}
}

// bufferAudioChunks reads the whole capture into chunks kept in arrival order.
func bufferAudioChunks(audio ports.AudioSession, chunkSize int) ([][]byte, error) {
	if chunkSize < 256 {
		chunkSize = 4096
	}

	var chunks [][]byte
	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			chunks = append(chunks, append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			if isCaptureEnd(err) {
				return chunks, nil
			}
			return chunks, fmt.Errorf("audio capture error: %w", err)
		}
	}
}

func concatChunks(chunks [][]byte) []byte {
	size := 0
	for _, chunk := range chunks {
		size += len(chunk)
	}
	out := make([]byte, 0, size)
	for _, chunk := range chunks {
		out = append(out, chunk...)
	}
	return out
}

// isCaptureEnd reports read errors that mean the capture was stopped.
func isCaptureEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
