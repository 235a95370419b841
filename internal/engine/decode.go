package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/conneroisu/keywave/internal/kwerrors"
)

// Decoder turns an audio file into an in-memory PCM buffer at the engine's
// output format. Decoding happens only during preload and hot reload,
// never on the playback path.
type Decoder interface {
	Decode(path string) (*beep.Buffer, error)
}

// BufferDecoder decodes mp3, wav, and ogg files into beep buffers,
// resampling to the engine's output rate when the source rate differs.
type BufferDecoder struct {
	format beep.Format
}

// NewBufferDecoder creates a decoder targeting the given output sample rate.
func NewBufferDecoder(sampleRate beep.SampleRate) *BufferDecoder {
	return &BufferDecoder{
		format: beep.Format{
			SampleRate:  sampleRate,
			NumChannels: 2,
			Precision:   2,
		},
	}
}

// Format returns the decoder's target format.
func (d *BufferDecoder) Format() beep.Format {
	return d.format
}

// Decode reads and fully decodes the file at path.
func (d *BufferDecoder) Decode(path string) (*beep.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kwerrors.NewDecodeError(kwerrors.ErrCodeAssetDecode, "opening "+path, err)
	}
	defer f.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".ogg":
		streamer, format, err = vorbis.Decode(f)
	default:
		return nil, kwerrors.NewDecodeError(kwerrors.ErrCodeAssetDecode, "unsupported audio format: "+path, nil)
	}
	if err != nil {
		return nil, kwerrors.NewDecodeError(kwerrors.ErrCodeAssetDecode, "decoding "+path, err)
	}

	var src beep.Streamer = streamer
	if format.SampleRate != d.format.SampleRate {
		src = beep.Resample(4, format.SampleRate, d.format.SampleRate, streamer)
	}

	buf := beep.NewBuffer(d.format)
	buf.Append(src)

	return buf, nil
}
