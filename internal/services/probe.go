package services

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Info describes a decoded audio file. It doubles as the /metadata response
// body.
type Info struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Channels        int     `json:"channels"`
	SampleRate      int     `json:"sample_rate"`
	SampleWidth     int     `json:"sample_width"`
	FrameCount      int64   `json:"frame_count"`
	DBFS            float64 `json:"dBFS"`
}

// Info probes the input and measures its mean loudness. No output file is
// produced.
func (p *Processor) Info(inputPath string) (Info, error) {
	info, err := p.probe(inputPath)
	if err != nil {
		return Info{}, err
	}

	dbfs, err := p.measureLoudness(inputPath)
	if err != nil {
		return Info{}, err
	}
	info.DBFS = dbfs
	return info, nil
}

// probe reads stream parameters through ffprobe alone; unlike Info it never
// decodes the input, so it is cheap enough to gate other operations on.
func (p *Processor) probe(inputPath string) (Info, error) {
	data, err := ffmpeg.Probe(inputPath)
	if err != nil {
		return Info{}, &ProcessingError{Message: "failed to get audio info", Err: err}
	}
	info, err := parseProbe(data)
	if err != nil {
		return Info{}, &ProcessingError{Message: "failed to get audio info", Err: err}
	}
	return info, nil
}

// parseProbe extracts the first audio stream's fields from ffprobe JSON.
func parseProbe(data string) (Info, error) {
	stream := gjson.Get(data, `streams.#(codec_type=="audio")`)
	if !stream.Exists() {
		return Info{}, fmt.Errorf("no audio stream found")
	}

	duration := gjson.Get(data, "format.duration").Float()
	if duration == 0 {
		duration = stream.Get("duration").Float()
	}

	sampleRate, _ := strconv.Atoi(stream.Get("sample_rate").String())

	// Lossy codecs report no stored sample width; they decode to 16-bit PCM.
	width := int(stream.Get("bits_per_sample").Int()) / 8
	if width == 0 {
		width = int(stream.Get("bits_per_raw_sample").Int()) / 8
	}
	if width == 0 {
		width = 2
	}

	return Info{
		DurationSeconds: duration,
		Channels:        int(stream.Get("channels").Int()),
		SampleRate:      sampleRate,
		SampleWidth:     width,
		FrameCount:      int64(duration * float64(sampleRate)),
	}, nil
}

var meanVolumeRegex = regexp.MustCompile(`mean_volume:\s*(-?[0-9.]+)\s*dB`)

// measureLoudness runs a volumedetect pass against a null muxer and reads
// the mean volume off ffmpeg's stderr.
func (p *Processor) measureLoudness(inputPath string) (float64, error) {
	var stderr bytes.Buffer
	err := ffmpeg.Input(inputPath).Audio().
		Filter("volumedetect", ffmpeg.Args{}).
		Output("pipe:", ffmpeg.KwArgs{"f": "null"}).
		WithErrorOutput(&stderr).
		Run()
	if err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			err = fmt.Errorf("ffmpeg: %s", detail)
		}
		return 0, &ProcessingError{Message: "failed to get audio info", Err: err}
	}

	dbfs, err := parseMeanVolume(stderr.String())
	if err != nil {
		return 0, &ProcessingError{Message: "failed to get audio info", Err: err}
	}
	return dbfs, nil
}

func parseMeanVolume(out string) (float64, error) {
	m := meanVolumeRegex.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("volumedetect reported no mean volume")
	}
	return strconv.ParseFloat(m[1], 64)
}
