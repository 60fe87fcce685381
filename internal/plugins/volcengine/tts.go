package volcengine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/tts"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins/wsconn"
)

const ttsEndpoint = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// TTS 火山引擎单向流式语音合成
type TTS struct {
	creds config.VolcengineConfig
	opts  tts.Options
}

// NewTTS 创建合成插件，输出 24kHz PCM。
func NewTTS(creds config.VolcengineConfig, opts tts.Options) (*TTS, error) {
	if err := checkCredentials(creds); err != nil {
		return nil, err
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.SampleRate24kHz
	}
	if opts.Language == "" {
		opts.Language = creds.Language
	}
	if opts.Endpoint == "" {
		opts.Endpoint = ttsEndpoint
	}
	opts.Voice = resolveSpeaker(opts.Voice)
	return &TTS{creds: creds, opts: opts}, nil
}

func (t *TTS) Label() string   { return "volcengine" }
func (t *TTS) SampleRate() int { return t.opts.SampleRate }

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format     string  `json:"format"`
	SampleRate int     `json:"sample_rate"`
	SpeedRatio float64 `json:"speed_ratio,omitempty"`
}

type ttsServerMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

// Synthesize 建立连接、发送首包，之后在后台把音频分片推入流。
func (t *TTS) Synthesize(ctx context.Context, text string) (agent.AudioStream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}

	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", t.creds.AppID)
	header.Set("X-Api-Access-Key", t.creds.AccessToken)
	header.Set("X-Api-Resource-Id", resolveResource(t.opts.Voice))
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := wsconn.Dial(ctx, t.opts.Endpoint, header, wsconn.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("volcengine tts dial: %w", err)
	}
	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[tts] volcengine connected logid=%s", logid)
		}
	}

	var req ttsRequest
	req.User.UID = connectID
	req.ReqParams.Speaker = t.opts.Voice
	req.ReqParams.Text = text
	req.ReqParams.Language = t.opts.Language
	req.ReqParams.AudioParams = ttsAudioParams{Format: "pcm", SampleRate: t.opts.SampleRate}
	if t.opts.Speed > 0 && t.opts.Speed != 1 {
		req.ReqParams.AudioParams.SpeedRatio = t.opts.Speed
	}

	payload, err := json.Marshal(req)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}
	packet, err := NewClientRequest(payload, NoCompression)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, packet.Marshal()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send tts request: %w", err)
	}

	stream := tts.NewStream(ctx, t.opts.SampleRate, func() { _ = conn.Close() })
	conn.CloseOnDone(stream.Context())
	go t.receive(conn, stream)
	return stream, nil
}

func (t *TTS) receive(conn *wsconn.Conn, stream *tts.Stream) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case stream.Context().Err() != nil:
				stream.Finish(stream.Context().Err())
			case wsconn.IsClosed(err):
				stream.Finish(nil)
			default:
				stream.Finish(fmt.Errorf("volcengine tts read: %w", err))
			}
			return
		}

		pcm, done, err := decodeTTSPacket(data)
		if err != nil {
			stream.Finish(err)
			return
		}
		if len(pcm) > 0 {
			if err := stream.PushPCM(pcm); err != nil {
				stream.Finish(err)
				return
			}
		}
		if done {
			stream.Finish(nil)
			return
		}
	}
}

// decodeTTSPacket 返回音频分片以及会话是否结束。
func decodeTTSPacket(data []byte) ([]byte, bool, error) {
	packet, err := Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode tts packet: %w", err)
	}

	switch packet.Type {
	case ErrorMessage:
		return nil, false, fmt.Errorf("volcengine tts error %d: %s", packet.ErrorCode, string(packet.Payload))
	case AudioOnlyServerResponse:
		return packet.Payload, packet.IsLast(), nil
	case FullServerResponse:
		var pcm []byte
		if len(packet.Payload) > 0 {
			var msg ttsServerMessage
			if err := json.Unmarshal(packet.Payload, &msg); err == nil {
				// 3000 为成功
				if msg.Code != 0 && msg.Code != 3000 && msg.Code != 20000000 {
					return nil, false, fmt.Errorf("volcengine tts api error %d: %s", msg.Code, msg.Message)
				}
				if msg.Data != "" {
					if pcm, err = base64.StdEncoding.DecodeString(msg.Data); err != nil {
						return nil, false, fmt.Errorf("decode tts audio: %w", err)
					}
				}
			}
		}
		finished := packet.Event == EventSessionFinished || packet.IsLast()
		if packet.Event == EventSessionFailed {
			return nil, false, errors.New("volcengine tts session failed")
		}
		return pcm, finished, nil
	}
	return nil, false, nil
}

var speakerAliases = map[string]string{
	"":                          "zh_female_vv_uranus_bigtts",
	"default":                   "zh_female_vv_uranus_bigtts",
	"en_default":                "en_female_amy_jupiter_bigtts",
	"zh_male_m392_conversation": "zh_male_M392_conversation_wvae_bigtts",
}

func resolveSpeaker(voice string) string {
	voice = strings.TrimSpace(voice)
	if mapped, ok := speakerAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

// resolveResource 按音色名推断资源 ID，克隆音色以 S_ 开头。
func resolveResource(voice string) string {
	if strings.HasPrefix(voice, "S_") {
		return "volc.megatts.default"
	}
	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return "seed-tts-2.0"
		}
	}
	return "volc.service_type.10029"
}

func checkCredentials(creds config.VolcengineConfig) error {
	if strings.TrimSpace(creds.AppID) == "" || strings.TrimSpace(creds.AccessToken) == "" {
		return errors.New("volcengine: app id and access token are required")
	}
	return nil
}
