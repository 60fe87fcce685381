// Package noise 提供房间输入的背景噪声抑制。
package noise

import (
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

// GateOptions 自适应噪声门参数
type GateOptions struct {
	// Ratio 能量超过噪声底的倍数才放行
	Ratio float64
	// MinThreshold 噪声底估计的下限
	MinThreshold float64
	// Reduction 关门时保留的增益
	Reduction float64
	Attack    float64 // 开门速度 (0,1]
	Release   float64 // 关门速度 (0,1]
}

// DefaultGateOptions 默认参数
func DefaultGateOptions() GateOptions {
	return GateOptions{
		Ratio:        2.5,
		MinThreshold: 0.003,
		Reduction:    0.05,
		Attack:       0.8,
		Release:      0.15,
	}
}

// Gate 跟踪背景噪声底并衰减低于阈值的帧，实例只能服务一路音频。
type Gate struct {
	opts  GateOptions
	floor float64
	gain  float64
}

// NewBVC 背景语音/噪声抑制，基于自适应噪声门。
func NewBVC() *Gate {
	return NewGate(DefaultGateOptions())
}

// NewGate 创建噪声门
func NewGate(opts GateOptions) *Gate {
	if opts.Ratio <= 1 {
		opts.Ratio = DefaultGateOptions().Ratio
	}
	if opts.Attack <= 0 || opts.Attack > 1 {
		opts.Attack = DefaultGateOptions().Attack
	}
	if opts.Release <= 0 || opts.Release > 1 {
		opts.Release = DefaultGateOptions().Release
	}
	return &Gate{opts: opts, gain: 1}
}

func (g *Gate) Label() string { return "bvc" }

// Process 返回处理后的新帧，输入帧不被修改。
func (g *Gate) Process(frame audio.Frame) audio.Frame {
	if frame.Empty() {
		return frame
	}
	rms := frame.RMS()
	g.trackFloor(rms)

	threshold := max(g.floor*g.opts.Ratio, g.opts.MinThreshold)
	target := g.opts.Reduction
	if rms > threshold {
		target = 1
	}
	rate := g.opts.Release
	if target > g.gain {
		rate = g.opts.Attack
	}
	g.gain += (target - g.gain) * rate

	out := make([]int16, len(frame.Samples))
	for i, s := range frame.Samples {
		out[i] = int16(float64(s) * g.gain)
	}
	return audio.Frame{Samples: out, SampleRate: frame.SampleRate, Channels: frame.Channels}
}

// trackFloor 下降快、上升慢，说话期间噪声底基本不动。
func (g *Gate) trackFloor(rms float64) {
	switch {
	case g.floor == 0:
		g.floor = rms
	case rms < g.floor:
		g.floor += (rms - g.floor) * 0.5
	default:
		g.floor += (rms - g.floor) * 0.005
	}
}
