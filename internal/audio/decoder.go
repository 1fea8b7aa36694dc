package audio

import (
	"fmt"
	"os/exec"
	"strconv"
)

// ffmpegSampleFormat returns the raw PCM muxer name for f, e.g. s16be.
func ffmpegSampleFormat(f Format) string {
	sign := "s"
	if f.Encoding == EncodingUnsigned {
		sign = "u"
	}
	if f.BitsPerSample == 8 {
		return sign + "8"
	}
	order := "le"
	if f.BigEndian {
		order = "be"
	}
	return sign + strconv.Itoa(f.BitsPerSample) + order
}

// DecodeFile runs FFmpeg to decode an audio file to raw interleaved PCM in
// format f. The result is trimmed to a whole number of frames.
func DecodeFile(path string, f Format) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	sf := ffmpegSampleFormat(f)
	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-f", sf,
		"-acodec", "pcm_"+sf,
		"-ar", strconv.Itoa(f.SampleRate),
		"-ac", strconv.Itoa(f.Channels),
		"-loglevel", "error",
		"pipe:1",
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode %s: %w", path, err)
	}

	bpf := f.BytesPerFrame()
	return out[:len(out)/bpf*bpf], nil
}
