package manifest

import (
	"encoding/binary"
	"os"
)

// Silence placeholder parameters: ~10ms of zero samples, mono 16-bit PCM
// at 44100 Hz. Header (44 bytes) + 882 data bytes = 926 bytes total.
const (
	silenceSampleRate = 44100
	silenceSamples    = 441
	silenceChannels   = 1
	silenceBitDepth   = 16
)

// WriteSilence writes the silence placeholder WAV to path. It backs the
// default slot whenever no user-supplied sound is present, so the defaults
// asset reference is never absent.
func WriteSilence(path string) error {
	dataSize := uint32(silenceSamples * silenceChannels * silenceBitDepth / 8)

	buf := make([]byte, 0, 44+int(dataSize))
	le := binary.LittleEndian

	u32 := func(v uint32) []byte {
		var b [4]byte
		le.PutUint32(b[:], v)
		return b[:]
	}
	u16 := func(v uint16) []byte {
		var b [2]byte
		le.PutUint16(b[:], v)
		return b[:]
	}

	buf = append(buf, "RIFF"...)
	buf = append(buf, u32(36+dataSize)...)
	buf = append(buf, "WAVE"...)

	buf = append(buf, "fmt "...)
	buf = append(buf, u32(16)...)
	buf = append(buf, u16(1)...) // PCM
	buf = append(buf, u16(silenceChannels)...)
	buf = append(buf, u32(silenceSampleRate)...)
	byteRate := uint32(silenceSampleRate * silenceChannels * silenceBitDepth / 8)
	buf = append(buf, u32(byteRate)...)
	blockAlign := uint16(silenceChannels * silenceBitDepth / 8)
	buf = append(buf, u16(blockAlign)...)
	buf = append(buf, u16(silenceBitDepth)...)

	buf = append(buf, "data"...)
	buf = append(buf, u32(dataSize)...)
	buf = append(buf, make([]byte, dataSize)...)

	return os.WriteFile(path, buf, 0o644)
}
