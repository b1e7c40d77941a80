package encoder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/cjeanneret/eosctl/internal/debug"
)

// FFmpeg pipes frames into an ffmpeg process reading MJPEG on stdin and
// writing H.264.
type FFmpeg struct {
	Binary string
}

func NewFFmpeg(binary string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{Binary: binary}
}

// Args returns the ffmpeg arguments used for target.
func (e *FFmpeg) Args(target string) []string {
	return []string{
		"-loglevel", "error",
		"-f", "image2pipe", // input format
		"-vcodec", "mjpeg",
		"-i", "-", // frames come from stdin
		"-c:v", "libx264",
		"-pix_fmt", "yuvj422p",
		"-y",
		target,
	}
}

// Available reports whether the binary can be executed.
func (e *FFmpeg) Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, e.Binary, "-version").Run() == nil
}

// Start launches ffmpeg for target. ctx only gates the launch: once running,
// the process ends when Close signals end of input, so an interrupted
// recording is still finalized.
func (e *FFmpeg) Start(ctx context.Context, target string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(context.WithoutCancel(ctx), e.Binary, e.Args(target)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	debug.Verbose("Encoder: %s %s", e.Binary, strings.Join(e.Args(target), " "))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &ffmpegStream{cmd: cmd, stdin: stdin, stderr: &stderr}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	frames int
}

func (s *ffmpegStream) Write(p []byte) (int, error) {
	n, err := s.stdin.Write(p)
	if err != nil {
		return n, fmt.Errorf("write frame %d: %w", s.frames+1, err)
	}
	s.frames++
	return n, nil
}

func (s *ffmpegStream) Close() error {
	closeErr := s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	debug.Verbose("Encoder: ffmpeg finished after %d frames", s.frames)
	return closeErr
}
