package services

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const wavProbeJSON = `{
	"streams": [
		{
			"codec_name": "pcm_s16le",
			"codec_type": "audio",
			"sample_rate": "44100",
			"channels": 2,
			"bits_per_sample": 16
		}
	],
	"format": {"format_name": "wav", "duration": "5.000000"}
}`

const mp3ProbeJSON = `{
	"streams": [
		{
			"codec_name": "mp3",
			"codec_type": "audio",
			"sample_rate": "48000",
			"channels": 1,
			"bits_per_sample": 0,
			"duration": "2.500000"
		}
	],
	"format": {"format_name": "mp3", "duration": "2.500000"}
}`

const videoOnlyProbeJSON = `{
	"streams": [{"codec_name": "h264", "codec_type": "video"}],
	"format": {"format_name": "mp4", "duration": "1.0"}
}`

func TestParseProbeWav(t *testing.T) {
	info, err := parseProbe(wavProbeJSON)
	require.NoError(t, err)

	require.Equal(t, 5.0, info.DurationSeconds)
	require.Equal(t, 2, info.Channels)
	require.Equal(t, 44100, info.SampleRate)
	require.Equal(t, 2, info.SampleWidth)
	require.Equal(t, int64(220500), info.FrameCount)
}

func TestParseProbeLossyDefaultsSampleWidth(t *testing.T) {
	info, err := parseProbe(mp3ProbeJSON)
	require.NoError(t, err)

	require.Equal(t, 2.5, info.DurationSeconds)
	require.Equal(t, 1, info.Channels)
	require.Equal(t, 48000, info.SampleRate)
	require.Equal(t, 2, info.SampleWidth)
	require.Equal(t, int64(120000), info.FrameCount)
}

func TestParseProbeNoAudioStream(t *testing.T) {
	_, err := parseProbe(videoOnlyProbeJSON)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no audio stream")
}

func TestParseMeanVolume(t *testing.T) {
	stderr := `[Parsed_volumedetect_0 @ 0x5631] n_samples: 16000
[Parsed_volumedetect_0 @ 0x5631] mean_volume: -20.3 dB
[Parsed_volumedetect_0 @ 0x5631] max_volume: -1.0 dB`

	dbfs, err := parseMeanVolume(stderr)
	require.NoError(t, err)
	require.Equal(t, -20.3, dbfs)
}

func TestParseMeanVolumeMissing(t *testing.T) {
	_, err := parseMeanVolume("frame=    1 fps=0.0 q=-0.0 size=N/A")
	require.Error(t, err)
}
