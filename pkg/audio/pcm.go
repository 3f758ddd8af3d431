// Package audio holds the 16-bit little-endian PCM helpers used between the
// speech synthesiser and the local player: WAV parsing, resampling and
// channel conversion.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Format describes a signed 16-bit PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of f, or 0 when f is unset.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// ErrInvalidWAV is returned by [ParseWAV] for anything that is not a
// RIFF/WAVE container with a data chunk.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// ParseWAV walks the RIFF chunks of wav and returns the stream format from
// the "fmt " chunk plus the PCM payload of the "data" chunk. A missing fmt
// chunk yields 22050 Hz mono, the usual Coqui output.
func ParseWAV(wav []byte) (Format, []byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Format{}, nil, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	f := Format{SampleRate: 22050, Channels: 1}
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size >= 16 && body+16 <= len(wav) {
				f.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
				f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			}
		case "data":
			end := min(body+size, len(wav))
			return f, wav[body:end], nil
		}

		// Chunks are word aligned.
		off = body + size + size%2
	}
	return Format{}, nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// EncodeWAV wraps pcm in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	le := binary.LittleEndian
	out := make([]byte, 44+len(pcm))
	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 1)
	le.PutUint16(out[22:], uint16(f.Channels))
	le.PutUint32(out[24:], uint32(f.SampleRate))
	le.PutUint32(out[28:], uint32(f.BytesPerSecond()))
	le.PutUint16(out[32:], uint16(f.Channels*2))
	le.PutUint16(out[34:], 16)
	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// Convert resamples and channel-converts pcm from one format to another.
// Only mono and stereo are supported; other layouts are returned unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to || to.SampleRate <= 0 {
		return pcm
	}
	// Collapse to mono before resampling so stereo input is resampled once.
	if from.Channels == 2 && to.Channels == 1 {
		pcm = StereoToMono(pcm)
		from.Channels = 1
	}
	if from.Channels == 1 {
		pcm = ResampleMono16(pcm, from.SampleRate, to.SampleRate)
		if to.Channels == 2 {
			pcm = MonoToStereo(pcm)
		}
	}
	return pcm
}

func sample(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
}

// ResampleMono16 resamples mono PCM from srcRate to dstRate by linear
// interpolation. Equal or non-positive rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	m := int(int64(n) * int64(dstRate) / int64(srcRate))
	if m == 0 {
		return nil
	}

	out := make([]byte, m*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range m {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(pcm, idx)
		s1 := s0
		if idx+1 < n {
			s1 = sample(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// MonoToStereo duplicates every mono sample into both channels.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sample(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// StereoToMono averages the two channels of every frame.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		avg := (int32(sample(pcm, 2*i)) + int32(sample(pcm, 2*i+1))) / 2
		putSample(out, i, int16(avg))
	}
	return out
}
