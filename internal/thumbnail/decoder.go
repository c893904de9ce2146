package thumbnail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/floostack/transcoder/ffmpeg"
)

// probeWaitDelay bounds how long Probe waits for ffprobe's output pipes once the process
// has been killed
const probeWaitDelay = time.Second

// ProbeResult holds the native geometry of the first video stream
type ProbeResult struct {
	Width    int
	Height   int
	Duration float64
}

// CaptureRequest asks the decoder for a single frame. A zero Height scales
// to Width while preserving the source aspect ratio.
type CaptureRequest struct {
	Input  string
	Output string
	Offset time.Duration
	Width  int
	Height int
}

// Decoder is the media decoding capability: it reads stream geometry and
// renders one still frame to an image file.
type Decoder interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
	Capture(ctx context.Context, req CaptureRequest) error
}

// FFmpegDecoder implements Decoder with the host's ffmpeg/ffprobe binaries
type FFmpegDecoder struct {
	FfmpegBinPath  string
	FfprobeBinPath string
}

func (d *FFmpegDecoder) ffprobe() string {
	if d.FfprobeBinPath == "" {
		return "ffprobe"
	}

	return d.FfprobeBinPath
}

// Probe runs ffprobe under ctx and decodes its report with the transcoder's
// metadata types.
func (d *FFmpegDecoder) Probe(ctx context.Context, path string) (ProbeResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.ffprobe(), "-i", path, "-print_format", "json", "-show_format", "-show_streams", "-show_error")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = probeWaitDelay

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ProbeResult{}, ctxErr
		}
		return ProbeResult{}, fmt.Errorf("failed to extract file metadata information using ffprobe: %v: %s", err, stderr.String())
	}

	var metadata ffmpeg.Metadata
	if err := json.Unmarshal(stdout.Bytes(), &metadata); err != nil {
		return ProbeResult{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	result := ProbeResult{}
	if format := metadata.GetFormat(); format != nil {
		result.Duration, _ = strconv.ParseFloat(format.GetDuration(), 64)
	}

	for _, stream := range metadata.GetStreams() {
		if stream.GetCodecType() != "video" || stream.GetWidth() <= 0 || stream.GetHeight() <= 0 {
			continue
		}

		result.Width = stream.GetWidth()
		result.Height = stream.GetHeight()
		return result, nil
	}

	return ProbeResult{}, errors.New("no valid video stream found")
}

// Capture renders one frame. The transcoder probes the input again before
// starting ffmpeg and that probe ignores ctx, so the whole start runs in the
// background and Capture returns as soon as ctx is done. ffmpeg itself is
// started under ctx and never runs past it.
func (d *FFmpegDecoder) Capture(ctx context.Context, req CaptureRequest) error {
	seek := formatTimestamp(req.Offset)
	frames := 1
	overwrite := true
	filter := scaleFilter(req.Width, req.Height)

	opts := &ffmpeg.Options{
		SeekTime:    &seek,
		Vframes:     &frames,
		VideoFilter: &filter,
		Overwrite:   &overwrite,
	}

	transcoder := ffmpeg.
		New(&ffmpeg.Config{
			ProgressEnabled: true,
			FfmpegBinPath:   d.FfmpegBinPath,
			FfprobeBinPath:  d.ffprobe(),
		}).
		Input(req.Input).
		Output(req.Output).
		WithContext(&ctx)

	done := make(chan error, 1)
	go func() {
		progressChannel, err := transcoder.Start(opts)
		if err != nil {
			done <- parseFfmpegError(err)
			return
		}

		// Progress closes once the ffmpeg process has exited
		for range progressChannel {
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return err
		}
		return ctx.Err()
	}
}

func scaleFilter(width, height int) string {
	if width <= 0 {
		width = DefaultWidth
	}

	if height <= 0 {
		return fmt.Sprintf("scale=%d:-2", width)
	}

	return fmt.Sprintf("scale=%d:%d", width, height)
}

// formatTimestamp renders d as HH:MM:SS.mmm for ffmpeg's -ss flag
func formatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, (ms/60000)%60, (ms/1000)%60, ms%1000)
}

func parseFfmpegError(err error) error {
	// The error embeds the full ffmpeg banner; only the JSON 'message' is useful
	messageMatcher := regexp.MustCompile(`(?s)message: ({.*})`)
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	var out map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil {
		return errors.New(groups[1])
	}

	exception, ok := out["error"].(map[string]interface{})
	if !ok {
		return errors.New(groups[1])
	}

	if msg, ok := exception["string"].(string); ok {
		return errors.New(msg)
	}

	return errors.New(groups[1])
}
