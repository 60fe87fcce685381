// Package vad 基于 RMS 能量的语音活动检测。
package vad

import (
	"errors"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
)

const (
	smoothingAlpha = 0.3
	maxExpectedRMS = 0.5
)

// Params 检测参数
type Params struct {
	Confidence float64       // 判定为语音的概率阈值
	MinVolume  float64       // 低于该 RMS 视为静音
	StartDelay time.Duration // 连续语音达到该时长才算开口
	StopDelay  time.Duration // 连续静音达到该时长才算说完
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{
		Confidence: 0.5,
		MinVolume:  0.01,
		StartDelay: 200 * time.Millisecond,
		StopDelay:  550 * time.Millisecond,
	}
}

// Validate 检查参数范围
func (p Params) Validate() error {
	if p.Confidence <= 0 || p.Confidence > 1 {
		return errors.New("vad: confidence must be in (0, 1]")
	}
	if p.MinVolume < 0 || p.MinVolume >= maxExpectedRMS {
		return errors.New("vad: min volume out of range")
	}
	if p.StartDelay < 0 || p.StopDelay < 0 {
		return errors.New("vad: delays must not be negative")
	}
	return nil
}

// VAD 能量检测插件，每路音频输入独立一个流。
type VAD struct {
	params Params
}

// New 创建检测插件
func New(params Params) (*VAD, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &VAD{params: params}, nil
}

func (v *VAD) Label() string { return "rms" }

// NewStream 创建单路检测状态机
func (v *VAD) NewStream() agent.VADStream {
	return &stream{params: v.params}
}

type state int

const (
	stateQuiet state = iota
	stateStarting
	stateSpeaking
	stateStopping
)

// stream 以音频时长推进状态机，不依赖墙钟。
type stream struct {
	params   Params
	state    state
	elapsed  time.Duration // 当前状态已持续的音频时长
	speech   time.Duration // 本段语音累计时长
	smoothed float64
}

func (s *stream) Push(frame audio.Frame) (agent.VADEvent, bool) {
	if frame.Empty() {
		return agent.VADEvent{}, false
	}
	d := frame.Duration()
	s.smoothed = smoothingAlpha*frame.RMS() + (1-smoothingAlpha)*s.smoothed
	voiced := s.probability(s.smoothed) >= s.params.Confidence

	s.elapsed += d
	if s.state == stateSpeaking || s.state == stateStopping || s.state == stateStarting {
		s.speech += d
	}

	switch s.state {
	case stateQuiet:
		if voiced {
			s.transition(stateStarting)
			s.speech = d
		}
	case stateStarting:
		if !voiced {
			s.transition(stateQuiet)
			s.speech = 0
		} else if s.elapsed >= s.params.StartDelay {
			s.transition(stateSpeaking)
			return agent.VADEvent{Type: agent.VADSpeechStart}, true
		}
	case stateSpeaking:
		if !voiced {
			s.transition(stateStopping)
		}
	case stateStopping:
		if voiced {
			s.transition(stateSpeaking)
		} else if s.elapsed >= s.params.StopDelay {
			speech := s.speech - s.elapsed
			s.transition(stateQuiet)
			s.speech = 0
			return agent.VADEvent{Type: agent.VADSpeechEnd, Speech: speech}, true
		}
	}
	return agent.VADEvent{}, false
}

func (s *stream) transition(next state) {
	s.state = next
	s.elapsed = 0
}

func (s *stream) probability(rms float64) float64 {
	if rms <= s.params.MinVolume {
		return 0
	}
	p := (rms - s.params.MinVolume) / (maxExpectedRMS - s.params.MinVolume)
	return min(p, 1)
}
