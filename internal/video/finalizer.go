package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ErrEncoding marks a failed video stitch. It degrades the artifact but is
// never allowed to change an already-determined run status.
var ErrEncoding = errors.New("video encoding failed")

// Artifact is a finalized recording. Immutable once created.
type Artifact struct {
	Path     string        `json:"path"`
	URL      string        `json:"url"`
	Duration time.Duration `json:"duration"`
	Frames   int           `json:"frames"`
}

type runner interface {
	run(ctx context.Context, name string, args ...string) error
}

// Finalizer stitches per-step PNG frames into a single mp4 using ffmpeg's
// concat demuxer, the way the capture side writes them: frame_0001.png,
// frame_0002.png, ...
type Finalizer struct {
	ffmpegPath string
	outDir     string
	fps        int
	log        *zap.Logger
	exec       runner
}

func NewFinalizer(ffmpegPath, outDir string, fps int, log *zap.Logger) *Finalizer {
	return &Finalizer{
		ffmpegPath: ffmpegPath,
		outDir:     outDir,
		fps:        fps,
		log:        log,
		exec:       execRunner{},
	}
}

// Finalize is invoked exactly once per run, after the session's recording
// sink is closed.
func (f *Finalizer) Finalize(ctx context.Context, framesDir, runID string) (*Artifact, error) {
	frames, err := collectFrames(framesDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames captured", ErrEncoding)
	}

	if err := os.MkdirAll(f.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	concatPath := filepath.Join(framesDir, "concat.txt")
	if err := writeConcatFile(concatPath, frames, f.fps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	outPath := filepath.Join(f.outDir, runID+".mp4")
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatPath,
		// Even 1920x1080 with padding keeps libx264 happy whatever the
		// frame dimensions were.
		"-vf", "scale=1920:1080:force_original_aspect_ratio=decrease," +
			"pad=1920:1080:(ow-iw)/2:(oh-ih)/2:color=black," +
			"setsar=1",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-crf", "23",
		outPath,
	}

	f.log.Info("stitching frames",
		zap.String("run_id", runID),
		zap.Int("frames", len(frames)),
		zap.Int("fps", f.fps))

	if err := f.exec.run(ctx, f.ffmpegPath, args...); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v", ErrEncoding, err)
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrEncoding)
	}

	return &Artifact{
		Path:     outPath,
		URL:      "/videos/" + runID + ".mp4",
		Duration: time.Duration(len(frames)) * time.Second / time.Duration(f.fps),
		Frames:   len(frames),
	}, nil
}

func collectFrames(framesDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(framesDir, "frame_*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// writeConcatFile emits the ffmpeg concat list, repeating the last frame so
// the demuxer knows the final duration. Single-frame runs still produce a
// short playable video.
func writeConcatFile(path string, frames []string, fps int) error {
	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer fh.Close()

	for _, frame := range frames {
		abs, err := filepath.Abs(frame)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(fh, "file '%s'\nduration %.4f\n", abs, 1/float64(fps)); err != nil {
			return err
		}
	}
	last, err := filepath.Abs(frames[len(frames)-1])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(fh, "file '%s'\n", last)
	return err
}
