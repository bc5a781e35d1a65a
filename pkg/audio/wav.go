package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps interleaved 16-bit PCM samples in a canonical RIFF/WAVE
// container. The output is deterministic: identical input always yields
// byte-identical bytes.
func EncodeWAV(pcm []int16, rate, channels int) ([]byte, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rate %d", rate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("audio: invalid channel count %d", channels)
	}
	dataSize := len(pcm) * 2
	blockAlign := channels * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(rate))
	binary.Write(&buf, binary.LittleEndian, uint32(rate*blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for _, s := range pcm {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	return buf.Bytes(), nil
}

// DecodeWAV parses a 16-bit PCM RIFF/WAVE container and returns the
// interleaved samples, sample rate and channel count.
func DecodeWAV(b []byte) ([]int16, int, int, error) {
	if len(b) < 12 || string(b[:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, 0, fmt.Errorf("audio: not a wav container")
	}
	var rate, channels, bits int
	var data []byte
	rest := b[12:]
	for len(rest) >= 8 {
		id := string(rest[:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		rest = rest[8:]
		if size > len(rest) {
			return nil, 0, 0, fmt.Errorf("audio: truncated %q chunk", id)
		}
		chunk := rest[:size]
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("audio: short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(chunk[0:2]); format != 1 {
				return nil, 0, 0, fmt.Errorf("audio: unsupported wav format %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			rate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bits = int(binary.LittleEndian.Uint16(chunk[14:16]))
		case "data":
			data = chunk
		}
		// Chunks are word aligned
		if size%2 == 1 {
			size++
		}
		if size > len(rest) {
			break
		}
		rest = rest[size:]
	}
	if rate == 0 || channels == 0 {
		return nil, 0, 0, fmt.Errorf("audio: missing fmt chunk")
	}
	if bits != 16 {
		return nil, 0, 0, fmt.Errorf("audio: unsupported bit depth %d", bits)
	}
	if data == nil {
		return nil, 0, 0, fmt.Errorf("audio: missing data chunk")
	}
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
	}
	return pcm, rate, channels, nil
}
