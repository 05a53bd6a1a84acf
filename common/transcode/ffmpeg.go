// Package transcode extracts speech-ready audio from uploaded media with ffmpeg.
package transcode

import (
	"context"
	"fmt"

	"github.com/lyzr/minutes/common/apperrors"
)

const (
	sampleRate = "16000"
	channels   = "1"
)

// Transcoder turns a media file into a speech-ready audio file.
type Transcoder interface {
	Extract(ctx context.Context, input, output string) error
	Extension() string
	ContentType() string
}

// FFmpeg produces mono 16 kHz WAV (PCM) or bitrate-limited MP3.
type FFmpeg struct {
	path    string
	format  string
	bitrate string
	exec    Executor
}

// NewFFmpeg creates a transcoder. format is "wav" or "mp3".
func NewFFmpeg(path, format, bitrate string, exec Executor) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if format == "" {
		format = "wav"
	}
	if bitrate == "" {
		bitrate = "32k"
	}
	if exec == nil {
		exec = NewExecutor()
	}
	return &FFmpeg{path: path, format: format, bitrate: bitrate, exec: exec}
}

// Args returns the ffmpeg argument list for one extraction.
func (f *FFmpeg) Args(input, output string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-i", input, "-vn", "-ac", channels, "-ar", sampleRate}
	switch f.format {
	case "mp3":
		args = append(args, "-c:a", "libmp3lame", "-b:a", f.bitrate, "-f", "mp3")
	default:
		args = append(args, "-c:a", "pcm_s16le", "-f", "wav")
	}
	return append(args, output)
}

// Extract runs ffmpeg. A non-zero exit is reported as a transcode failure.
func (f *FFmpeg) Extract(ctx context.Context, input, output string) error {
	if _, err := f.exec.Execute(ctx, f.path, f.Args(input, output)...); err != nil {
		return apperrors.Wrap(apperrors.ErrTranscode, "extract", "ffmpeg", fmt.Sprintf("transcode %s", input), err)
	}
	return nil
}

// Extension returns the output file extension including the dot.
func (f *FFmpeg) Extension() string {
	return "." + f.format
}

// ContentType returns the MIME type of the produced audio.
func (f *FFmpeg) ContentType() string {
	if f.format == "mp3" {
		return "audio/mpeg"
	}
	return "audio/wav"
}
