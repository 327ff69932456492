package encoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const WAVHeaderSize = 44

var ErrInvalidWAV = errors.New("invalid wav data")

// EncodeWAV wraps interleaved PCM16 samples in a canonical 44-byte header.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	dataSize := len(samples) * 2
	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+dataSize))

	byteRate := sampleRate * channels * BitsPerSample / 8
	blockAlign := channels * BitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(BitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

type WAVInfo struct {
	SampleRate int
	Channels   int
}

// DecodeWAV walks the RIFF chunks and returns the PCM16 payload. Only 16-bit
// integer PCM is accepted.
func DecodeWAV(data []byte) ([]int16, WAVInfo, error) {
	var info WAVInfo
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, info, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}
	var haveFmt bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := min(body+size, len(data))
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, info, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || bits != BitsPerSample {
				return nil, info, fmt.Errorf("%w: format %d with %d bits, want PCM16", ErrInvalidWAV, format, bits)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, info, fmt.Errorf("%w: data before fmt", ErrInvalidWAV)
			}
			payload := data[body:end]
			samples := make([]int16, len(payload)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
			}
			return samples, info, nil
		}
		pos = body + size + size%2
	}
	return nil, info, fmt.Errorf("%w: no data chunk", ErrInvalidWAV)
}
