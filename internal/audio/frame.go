// Package audio 提供 PCM16 音频帧与常用处理工具。
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// 常用采样率
const (
	SampleRate48kHz = 48000 // WebRTC/Opus 采样率
	SampleRate24kHz = 24000 // TTS 常见输出采样率
	SampleRate16kHz = 16000 // STT 常见输入采样率

	bytesPerSample = 2
	maxAmplitude   = 32768.0
)

// Frame 一段交错排列的 16 位有符号 PCM 音频。
type Frame struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// NewFrame 从小端字节序 PCM16 数据创建音频帧。
func NewFrame(pcm []byte, sampleRate, channels int) (Frame, error) {
	if len(pcm)%bytesPerSample != 0 {
		return Frame{}, fmt.Errorf("pcm length %d is not a multiple of %d", len(pcm), bytesPerSample)
	}
	if sampleRate <= 0 {
		return Frame{}, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels <= 0 {
		channels = 1
	}

	samples := make([]int16, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))
	}
	return Frame{Samples: samples, SampleRate: sampleRate, Channels: channels}, nil
}

// Bytes 返回小端字节序的 PCM16 数据。
func (f Frame) Bytes() []byte {
	out := make([]byte, len(f.Samples)*bytesPerSample)
	for i, s := range f.Samples {
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(s))
	}
	return out
}

// SamplesPerChannel 返回单声道样本数。
func (f Frame) SamplesPerChannel() int {
	if f.Channels <= 0 {
		return len(f.Samples)
	}
	return len(f.Samples) / f.Channels
}

// Duration 返回帧的播放时长。
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel()) * time.Second / time.Duration(f.SampleRate)
}

// Empty 表示帧不包含样本。
func (f Frame) Empty() bool {
	return len(f.Samples) == 0
}

// RMS 计算归一化到 [0,1] 的均方根能量。
func (f Frame) RMS() float64 {
	if len(f.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f.Samples {
		n := float64(s) / maxAmplitude
		sum += n * n
	}
	return math.Sqrt(sum / float64(len(f.Samples)))
}

// Mono 把多声道帧按平均值混为单声道。
func (f Frame) Mono() Frame {
	if f.Channels <= 1 {
		return f
	}
	n := f.SamplesPerChannel()
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		var sum int
		for c := 0; c < f.Channels; c++ {
			sum += int(f.Samples[i*f.Channels+c])
		}
		out[i] = int16(sum / f.Channels)
	}
	return Frame{Samples: out, SampleRate: f.SampleRate, Channels: 1}
}

// Split 将帧切分为固定时长的子帧，末尾不足一帧的样本单独返回。
func (f Frame) Split(d time.Duration) []Frame {
	per := int(time.Duration(f.SampleRate)*d/time.Second) * max(f.Channels, 1)
	if per <= 0 || len(f.Samples) <= per {
		return []Frame{f}
	}

	frames := make([]Frame, 0, len(f.Samples)/per+1)
	for start := 0; start < len(f.Samples); start += per {
		end := min(start+per, len(f.Samples))
		frames = append(frames, Frame{
			Samples:    f.Samples[start:end],
			SampleRate: f.SampleRate,
			Channels:   f.Channels,
		})
	}
	return frames
}
