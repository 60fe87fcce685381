package audio

import "fmt"

// Resample 以线性插值把单声道帧转换到目标采样率。
func Resample(f Frame, toRate int) (Frame, error) {
	if toRate <= 0 || f.SampleRate <= 0 {
		return Frame{}, fmt.Errorf("invalid sample rates: from=%d, to=%d", f.SampleRate, toRate)
	}
	if f.Channels > 1 {
		f = f.Mono()
	}
	if f.SampleRate == toRate {
		out := make([]int16, len(f.Samples))
		copy(out, f.Samples)
		return Frame{Samples: out, SampleRate: toRate, Channels: 1}, nil
	}

	n := len(f.Samples)
	if n == 0 {
		return Frame{SampleRate: toRate, Channels: 1}, nil
	}

	outLen := int(float64(n) * float64(toRate) / float64(f.SampleRate))
	out := make([]int16, outLen)
	ratio := float64(f.SampleRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= n-1 {
			out[i] = f.Samples[n-1]
			continue
		}
		frac := pos - float64(idx)
		s0 := float64(f.Samples[idx])
		s1 := float64(f.Samples[idx+1])
		out[i] = int16(s0 + frac*(s1-s0))
	}
	return Frame{Samples: out, SampleRate: toRate, Channels: 1}, nil
}
