package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cjeanneret/eosctl/internal/debug"
	"github.com/cjeanneret/eosctl/internal/logic/capture"
)

func refused(msg string) capture.Result {
	return capture.Result{Message: msg}
}

// CapturePreview saves one live-view frame to target. Nothing is written
// to the card. PHOTO mode only.
func (s *Session) CapturePreview(ctx context.Context, target string) (capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, denied, err := s.gate(opPreview)
	if err != nil || denied != "" {
		return refused(denied), err
	}
	if err := ctx.Err(); err != nil {
		return capture.Result{}, err
	}
	frame, err := s.gw.CapturePreview()
	if err != nil {
		return capture.Result{}, fmt.Errorf("capture preview: %w", err)
	}
	if target == "" {
		target = filepath.Join(s.dir, "preview.jpg")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return capture.Result{}, err
	}
	if err := os.WriteFile(target, frame, 0o644); err != nil {
		return capture.Result{}, fmt.Errorf("save %s: %w", target, err)
	}
	debug.Verbose("Preview frame saved to %s (%d bytes)", target, len(frame))
	return capture.Result{Success: true, FilePath: target, Message: "saved to computer"}, nil
}

// ImageOptions controls CaptureImage.
type ImageOptions struct {
	Download  bool
	Dir       string // defaults to the session download directory
	Autofocus bool
}

// CaptureImage takes one still. With Download, the file is fetched once the
// body announces it; a missing announcement is reported as a timeout.
// PHOTO mode only.
func (s *Session) CaptureImage(ctx context.Context, opts ImageOptions) (capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, denied, err := s.gate(opStill)
	if err != nil || denied != "" {
		return refused(denied), err
	}
	return s.orch.Still(ctx, capture.StillOptions{
		Download:  opts.Download,
		Dir:       s.dirOr(opts.Dir),
		Autofocus: opts.Autofocus,
	})
}

// CaptureBurst shoots continuously for hold (about 8-9 fps) and returns the
// camera paths of every file written. PHOTO mode only.
func (s *Session) CaptureBurst(ctx context.Context, hold time.Duration) (capture.BurstResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, denied, err := s.gate(opBurst)
	if err != nil || denied != "" {
		return capture.BurstResult{Message: denied}, err
	}
	return s.orch.Burst(ctx, hold)
}

// RecordPreviewVideo records live-view frames into a video file on the host.
// An existing target is overwritten. PHOTO mode only.
func (s *Session) RecordPreviewVideo(ctx context.Context, opts capture.PreviewOptions) (capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, denied, err := s.gate(opPreviewVideo)
	if err != nil || denied != "" {
		return refused(denied), err
	}
	if opts.Target == "" {
		opts.Target = filepath.Join(s.dir, "prev_vid.mp4")
	}
	return s.orch.PreviewVideo(ctx, opts)
}

// RecordVideo records a full-resolution clip to the card and optionally
// downloads it. Format and resolution come from the body's menu.
// VIDEO mode only.
func (s *Session) RecordVideo(ctx context.Context, opts capture.VideoOptions) (capture.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, denied, err := s.gate(opRecord)
	if err != nil || denied != "" {
		return refused(denied), err
	}
	opts.Dir = s.dirOr(opts.Dir)
	return s.orch.Video(ctx, opts)
}

func (s *Session) dirOr(dir string) string {
	if dir == "" {
		return s.dir
	}
	return dir
}
