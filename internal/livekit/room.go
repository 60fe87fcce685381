package livekit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"gopkg.in/hraban/opus.v2"
)

const (
	opusSampleRate = audio.SampleRate48kHz
	// 单个 Opus 包最长 120ms
	maxOpusFrame   = opusSampleRate * 120 / 1000
	subscriberSize = 100
)

// ErrRoomClosed 房间连接已断开
var ErrRoomClosed = errors.New("room disconnected")

type decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// Room 把 LiveKit 房间适配为会话使用的音频输入输出。
// 所有远端音频轨道解码后的帧会广播给每个订阅者。
type Room struct {
	lk *lksdk.Room

	mu          sync.Mutex
	subscribers map[chan audio.Frame]struct{}
	sinks       []*sampleSink
	closed      bool
	done        chan struct{}
}

var _ agent.Room = (*Room)(nil)

func newRoom() *Room {
	return &Room{
		subscribers: make(map[chan audio.Frame]struct{}),
		done:        make(chan struct{}),
	}
}

// Done 在与房间断开后关闭。
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) attach(lk *lksdk.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lk = lk
}

// Name 房间名
func (r *Room) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lk == nil {
		return ""
	}
	return r.lk.Name()
}

// Identity 本地参与者身份
func (r *Room) Identity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lk == nil {
		return ""
	}
	return r.lk.LocalParticipant.Identity()
}

func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			log.Printf("[livekit] participant connected: %s", rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			log.Printf("[livekit] participant disconnected: %s", rp.Identity())
		},
		OnDisconnected: func() {
			log.Printf("[livekit] room disconnected")
			r.shutdown()
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackPublished: func(publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if publication.Kind() != lksdk.TrackKindAudio {
					return
				}
				if err := publication.SetSubscribed(true); err != nil {
					log.Printf("[livekit] subscribe audio from %s: %v", rp.Identity(), err)
				}
			},
			OnTrackSubscribed: func(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio {
					return
				}
				log.Printf("[livekit] audio track subscribed: %s from %s (codec: %s)", publication.SID(), rp.Identity(), track.Codec().MimeType)
				go r.readTrack(track, rp.Identity())
			},
		},
	}
}

// readTrack 解码远端 Opus 轨道直到轨道结束。
func (r *Room) readTrack(track *webrtc.TrackRemote, identity string) {
	dec, err := opus.NewDecoder(opusSampleRate, 1)
	if err != nil {
		log.Printf("[livekit] create opus decoder for %s: %v", identity, err)
		return
	}

	pcm := make([]int16, maxOpusFrame)
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			log.Printf("[livekit] audio track from %s ended: %v", identity, err)
			return
		}
		frame, ok := decodePacket(dec, packet.Payload, pcm)
		if !ok {
			continue
		}
		r.dispatch(frame)
	}
}

func decodePacket(dec decoder, payload []byte, pcm []int16) (audio.Frame, bool) {
	if len(payload) == 0 {
		return audio.Frame{}, false
	}
	n, err := dec.Decode(payload, pcm)
	if err != nil || n == 0 {
		return audio.Frame{}, false
	}
	samples := make([]int16, n)
	copy(samples, pcm[:n])
	return audio.Frame{Samples: samples, SampleRate: opusSampleRate, Channels: 1}, true
}

// dispatch 广播给订阅者，订阅者处理不过来时丢帧。
func (r *Room) dispatch(frame audio.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}

// SubscribeAudio 订阅房间内远端音频，ctx 结束或房间断开时通道关闭。
func (r *Room) SubscribeAudio(ctx context.Context) (<-chan audio.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRoomClosed
	}

	ch := make(chan audio.Frame, subscriberSize)
	r.subscribers[ch] = struct{}{}
	go func() {
		<-ctx.Done()
		r.unsubscribe(ch)
	}()
	return ch, nil
}

func (r *Room) unsubscribe(ch chan audio.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[ch]; ok {
		delete(r.subscribers, ch)
		close(ch)
	}
}

// PublishAudio 发布一条麦克风音轨，写入的 PCM 以 20ms Opus 包实时播放。
func (r *Room) PublishAudio(ctx context.Context, trackName string, sampleRate int) (agent.AudioSink, error) {
	r.mu.Lock()
	lk, closed := r.lk, r.closed
	r.mu.Unlock()
	if closed || lk == nil {
		return nil, ErrRoomClosed
	}

	enc, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	sink := newSampleSink(trackName, enc)

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusSampleRate,
		Channels:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("create local track: %w", err)
	}
	if err := track.StartWrite(sink, func() {
		log.Printf("[livekit] track %s write finished", trackName)
	}); err != nil {
		return nil, fmt.Errorf("start track %s: %w", trackName, err)
	}

	publication, err := lk.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   trackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		_ = sink.Close()
		return nil, fmt.Errorf("publish track %s: %w", trackName, err)
	}
	sink.unpublish = func() {
		if err := lk.LocalParticipant.UnpublishTrack(publication.SID()); err != nil {
			log.Printf("[livekit] unpublish %s: %v", trackName, err)
		}
	}

	r.mu.Lock()
	r.sinks = append(r.sinks, sink)
	r.mu.Unlock()

	log.Printf("[livekit] published audio track %s (input %d Hz)", trackName, sampleRate)
	return sink, nil
}

// PublishData 可靠地发送带 topic 的数据包。
func (r *Room) PublishData(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	lk, closed := r.lk, r.closed
	r.mu.Unlock()
	if closed || lk == nil {
		return ErrRoomClosed
	}

	return lk.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topic),
	)
}

// Disconnect 离开房间并关闭所有订阅与音轨。
func (r *Room) Disconnect() {
	r.mu.Lock()
	lk := r.lk
	r.mu.Unlock()

	r.shutdown()
	if lk != nil {
		lk.Disconnect()
	}
}

func (r *Room) shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.done)
	for ch := range r.subscribers {
		delete(r.subscribers, ch)
		close(ch)
	}
	sinks := r.sinks
	r.sinks = nil
	r.mu.Unlock()

	for _, sink := range sinks {
		_ = sink.Close()
	}
}
