package encoder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cjeanneret/eosctl/internal/debug"
)

// Encoder turns a stream of JPEG frames into a video file.
type Encoder interface {
	// Start prepares target and returns a stream accepting frames.
	// A failure to start is a hard error for the caller.
	Start(ctx context.Context, target string) (Stream, error)
}

// Stream receives one JPEG frame per Write.
// Close signals end-of-input and waits for the output to be complete.
type Stream interface {
	io.Writer
	Close() error
}

// New returns the encoder for kind ("ffmpeg" or "mjpeg").
// binary is the ffmpeg executable and is ignored for "mjpeg".
func New(kind, binary string) (Encoder, error) {
	switch kind {
	case "", "ffmpeg":
		return NewFFmpeg(binary), nil
	case "mjpeg":
		return MJPEG{}, nil
	default:
		return nil, fmt.Errorf("unknown encoder %q (want ffmpeg or mjpeg)", kind)
	}
}

// MJPEG concatenates frames into a raw Motion-JPEG file without any external
// process. Most players open the result when named *.mjpeg.
type MJPEG struct{}

func (MJPEG) Start(ctx context.Context, target string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", target, err)
	}
	debug.Verbose("Encoder: writing raw MJPEG to %s", target)
	return &fileStream{f: f}, nil
}

type fileStream struct {
	f      *os.File
	frames int
}

func (s *fileStream) Write(p []byte) (int, error) {
	s.frames++
	return s.f.Write(p)
}

func (s *fileStream) Close() error {
	debug.Verbose("Encoder: %d frames written to %s", s.frames, s.f.Name())
	return s.f.Close()
}
