package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV 为 PCM16 帧加上 44 字节的 RIFF/WAVE 头。
func EncodeWAV(f Frame) []byte {
	pcm := f.Bytes()
	channels := max(f.Channels, 1)

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate*channels*bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV 解析只含 PCM16 数据的 WAV 文件。
func DecodeWAV(data []byte) (Frame, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Frame{}, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+size > len(data) {
			size = len(data) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return Frame{}, fmt.Errorf("fmt chunk too short: %d", size)
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return Frame{}, fmt.Errorf("unsupported wav format: %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			if bits != 16 {
				return Frame{}, fmt.Errorf("unsupported bits per sample: %d", bits)
			}
			return NewFrame(data[body:body+size-size%2], sampleRate, channels)
		}
		offset = body + size + size%2
	}
	return Frame{}, fmt.Errorf("wav data chunk not found")
}
