// Package services implements the audio processing layer. Every operation
// decodes, transforms and encodes through ffmpeg via ffmpeg-go; this package
// only assembles pipelines, names output files and manages their lifetime.
package services

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// cleanupThreshold is the age past which output files are swept.
const cleanupThreshold = time.Hour

var supportedFormats = map[string]struct{}{
	"wav":  {},
	"mp3":  {},
	"ogg":  {},
	"flac": {},
	"m4a":  {},
}

var defaultBitrates = map[string]string{
	"mp3": "192k",
	"ogg": "128k",
	"m4a": "128k",
}

// ExportSettings carries the optional parameters of ExportWithSettings. An
// empty Bitrate falls back to the per-format default, a zero SampleRate
// keeps the source rate, and Normalize toggles loudness normalization.
type ExportSettings struct {
	Bitrate    string
	SampleRate int
	Normalize  bool
}

// Processor runs audio operations and owns the directory its outputs live
// in. Output files are named {uuid}_{suffix}.{ext}, so concurrent requests
// never collide and no locking is required.
type Processor struct {
	outputDir string
	log       zerolog.Logger
}

// NewProcessor creates (or adopts) the output directory. An empty outputDir
// requests a fresh temporary directory.
func NewProcessor(outputDir string, log zerolog.Logger) (*Processor, error) {
	if outputDir == "" {
		dir, err := os.MkdirTemp("", "audio-output-")
		if err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
		outputDir = dir
	} else if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	log.Info().Str("dir", outputDir).Msg("audio processor initialized")
	return &Processor{outputDir: outputDir, log: log}, nil
}

// OutputDir returns the directory processed files are written to.
func (p *Processor) OutputDir() string { return p.outputDir }

// Convert re-encodes the input into targetFormat using the per-format
// default bitrate and, for mp3, the fixed VBR quality setting.
func (p *Processor) Convert(inputPath, targetFormat string) (string, error) {
	targetFormat = strings.ToLower(targetFormat)
	if err := validateFormat(targetFormat); err != nil {
		return "", err
	}

	out := p.outputPath("converted", targetFormat)
	stream := ffmpeg.Input(inputPath).Output(out, encodeArgs(targetFormat, ""))
	if err := p.run("conversion", stream); err != nil {
		return "", err
	}
	return out, nil
}

// Merge folds the inputs left to right into a single file. With a positive
// crossfadeMs each subsequent file is blended in over that duration;
// otherwise the inputs are plainly concatenated.
func (p *Processor) Merge(inputPaths []string, outputFormat string, crossfadeMs int) (string, error) {
	if len(inputPaths) < 2 {
		return "", NewValidationError("at least 2 files required for merging")
	}
	outputFormat = strings.ToLower(outputFormat)
	if err := validateFormat(outputFormat); err != nil {
		return "", err
	}

	// concat and acrossfade both require every input to share sample rate
	// and channel layout, so each input is conformed to the first file's
	// parameters before merging.
	target, err := p.probe(inputPaths[0])
	if err != nil {
		return "", err
	}
	layout := "stereo"
	if target.Channels == 1 {
		layout = "mono"
	}

	streams := make([]*ffmpeg.Stream, len(inputPaths))
	for i, path := range inputPaths {
		streams[i] = ffmpeg.Input(path).Audio().
			Filter("aformat", ffmpeg.Args{}, ffmpeg.KwArgs{
				"sample_rates":    target.SampleRate,
				"channel_layouts": layout,
			})
	}

	var merged *ffmpeg.Stream
	if crossfadeMs > 0 {
		merged = streams[0]
		for _, next := range streams[1:] {
			merged = ffmpeg.Filter(
				[]*ffmpeg.Stream{merged, next},
				"acrossfade",
				ffmpeg.Args{},
				ffmpeg.KwArgs{"d": float64(crossfadeMs) / 1000.0},
			)
		}
	} else {
		merged = ffmpeg.Concat(streams, ffmpeg.KwArgs{"v": 0, "a": 1})
	}

	out := p.outputPath("merged", outputFormat)
	if err := p.run("merge", merged.Output(out, encodeArgs(outputFormat, ""))); err != nil {
		return "", err
	}
	return out, nil
}

// ExportWithSettings optionally normalizes loudness, optionally resamples,
// then encodes with the explicit bitrate or the per-format default.
func (p *Processor) ExportWithSettings(inputPath, targetFormat string, settings ExportSettings) (string, error) {
	targetFormat = strings.ToLower(targetFormat)
	if err := validateFormat(targetFormat); err != nil {
		return "", err
	}

	stream := ffmpeg.Input(inputPath).Audio()
	if settings.Normalize {
		stream = stream.Filter("loudnorm", ffmpeg.Args{}, ffmpeg.KwArgs{
			"I":   -14.0,
			"TP":  -1.5,
			"LRA": 11.0,
		})
	}

	args := encodeArgs(targetFormat, settings.Bitrate)
	if settings.SampleRate > 0 {
		args["ar"] = settings.SampleRate
	}

	out := p.outputPath("export", targetFormat)
	if err := p.run("export", stream.Output(out, args)); err != nil {
		return "", err
	}
	return out, nil
}

// Trim slices the input to [startMs, endMs). The range is validated against
// the probed duration before any encoding starts.
func (p *Processor) Trim(inputPath string, startMs, endMs int, outputFormat string) (string, error) {
	outputFormat = strings.ToLower(outputFormat)
	if err := validateFormat(outputFormat); err != nil {
		return "", err
	}

	info, err := p.probe(inputPath)
	if err != nil {
		return "", err
	}
	durationMs := int(info.DurationSeconds * 1000)
	if startMs < 0 || endMs > durationMs || startMs >= endMs {
		return "", NewValidationError(
			"invalid time range: %d-%dms (audio duration: %dms)", startMs, endMs, durationMs)
	}

	stream := ffmpeg.Input(inputPath).Audio().
		Filter("atrim", ffmpeg.Args{}, ffmpeg.KwArgs{
			"start": float64(startMs) / 1000.0,
			"end":   float64(endMs) / 1000.0,
		}).
		Filter("asetpts", ffmpeg.Args{"PTS-STARTPTS"})

	out := p.outputPath("trimmed", outputFormat)
	if err := p.run("trim", stream.Output(out, codecArgs(outputFormat))); err != nil {
		return "", err
	}
	return out, nil
}

// AdjustVolume applies a gain offset in dB. Negative values attenuate.
func (p *Processor) AdjustVolume(inputPath string, deltaDB float64, outputFormat string) (string, error) {
	outputFormat = strings.ToLower(outputFormat)
	if err := validateFormat(outputFormat); err != nil {
		return "", err
	}

	stream := ffmpeg.Input(inputPath).Audio().
		Filter("volume", ffmpeg.Args{}, ffmpeg.KwArgs{
			"volume": fmt.Sprintf("%.2fdB", deltaDB),
		})

	out := p.outputPath("adjusted", outputFormat)
	if err := p.run("volume adjustment", stream.Output(out, codecArgs(outputFormat))); err != nil {
		return "", err
	}
	return out, nil
}

// CleanupOldFiles removes every non-directory entry in the output directory
// older than the cleanup threshold and returns the number removed. Listing
// and removal errors are logged and skipped; they never abort the sweep.
func (p *Processor) CleanupOldFiles() int {
	cutoff := time.Now().Add(-cleanupThreshold)

	entries, err := os.ReadDir(p.outputDir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn().Err(err).Msg("cleanup: failed to list output dir")
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			p.log.Warn().Err(err).Str("name", entry.Name()).Msg("cleanup: failed to stat file")
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(p.outputDir, entry.Name())
		if err := os.Remove(path); err != nil {
			p.log.Warn().Err(err).Str("path", path).Msg("cleanup: failed to remove file")
			continue
		}
		removed++
	}

	if removed > 0 {
		p.log.Info().Int("removed", removed).Msg("swept old output files")
	}
	return removed
}

// Close removes the entire output directory. Call once the processor is no
// longer needed.
func (p *Processor) Close() error {
	if err := os.RemoveAll(p.outputDir); err != nil {
		p.log.Warn().Err(err).Str("dir", p.outputDir).Msg("failed to remove output dir")
		return err
	}
	return nil
}

func validateFormat(format string) error {
	if _, ok := supportedFormats[format]; !ok {
		return NewValidationError(
			"unsupported format: %s (supported: wav, mp3, ogg, flac, m4a)", format)
	}
	return nil
}

func (p *Processor) outputPath(suffix, ext string) string {
	name := fmt.Sprintf("%s_%s.%s", strings.ReplaceAll(uuid.NewString(), "-", ""), suffix, ext)
	return filepath.Join(p.outputDir, name)
}

// codecArgs maps a format onto its ffmpeg codec and container arguments.
func codecArgs(format string) ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{}
	switch format {
	case "mp3":
		args["c:a"] = "libmp3lame"
	case "ogg":
		args["c:a"] = "libvorbis"
	case "m4a":
		args["c:a"] = "aac"
		args["f"] = "ipod"
	case "flac":
		args["c:a"] = "flac"
	case "wav":
		args["c:a"] = "pcm_s16le"
	}
	return args
}

// encodeArgs extends codecArgs with the bitrate defaults used by convert,
// merge and export: the explicit bitrate when given, the per-format default
// otherwise, plus the fixed mp3 quality setting.
func encodeArgs(format, bitrate string) ffmpeg.KwArgs {
	args := codecArgs(format)
	if bitrate == "" {
		bitrate = defaultBitrates[format]
	}
	if bitrate != "" {
		args["b:a"] = bitrate
	}
	if format == "mp3" {
		args["q:a"] = 2
	}
	return args
}

// run executes a compiled pipeline, folding captured stderr into the
// returned ProcessingError.
func (p *Processor) run(op string, stream *ffmpeg.Stream) error {
	var stderr bytes.Buffer
	err := stream.OverWriteOutput().WithErrorOutput(&stderr).Run()
	if err == nil {
		return nil
	}
	if detail := strings.TrimSpace(stderr.String()); detail != "" {
		err = fmt.Errorf("ffmpeg: %s", detail)
	}
	return &ProcessingError{Message: op + " failed", Err: err}
}
