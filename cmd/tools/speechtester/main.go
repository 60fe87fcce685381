package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/zhouzirui/z-podcast/backend/internal/agent"
	"github.com/zhouzirui/z-podcast/backend/internal/audio"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
	"github.com/zhouzirui/z-podcast/backend/internal/plugins"
)

const frameDuration = 20 * time.Millisecond

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	envFile := flag.String("env", config.DefaultEnvFile, "dotenv 凭证文件")
	mode := flag.String("mode", "", "测试模式: stt 或 tts")
	provider := flag.String("provider", "", "插件服务名，默认 stt=assemblyai, tts=rime")
	model := flag.String("model", "", "模型名")
	voice := flag.String("voice", "alloy", "TTS 音色")
	language := flag.String("lang", "en", "语言代码")
	audioPath := flag.String("audio", "", "STT 输入 WAV 文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出 WAV 文件路径 (默认自动生成)")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "stt" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=stt 或 -mode=tts 指定测试模式")
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	registry := plugins.NewRegistry(cfg.Providers)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	spec := plugins.ProviderSpec{Provider: *provider, Model: *model, Voice: *voice, Language: *language}
	switch *mode {
	case "stt":
		if spec.Provider == "" {
			spec.Provider = "assemblyai"
		}
		runSTT(ctx, registry, spec, *audioPath)
	case "tts":
		if spec.Provider == "" {
			spec.Provider = "rime"
		}
		runTTS(ctx, registry, spec, *text, *outputPath)
	}
}

func runSTT(ctx context.Context, registry *plugins.Registry, spec plugins.ProviderSpec, audioPath string) {
	if audioPath == "" {
		log.Fatal("STT 模式需要通过 -audio 指定 WAV 文件路径")
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}
	frame, err := audio.DecodeWAV(data)
	if err != nil {
		log.Fatalf("解析 WAV 失败: %v", err)
	}

	stt, err := registry.STT(ctx, spec)
	if err != nil {
		log.Fatalf("创建 STT 失败: %v", err)
	}
	if frame, err = audio.Resample(frame, stt.SampleRate()); err != nil {
		log.Fatalf("重采样失败: %v", err)
	}

	stream, err := stt.NewStream(ctx)
	if err != nil {
		log.Fatalf("打开识别流失败: %v", err)
	}
	defer stream.Close()

	log.Printf("开始进行 STT 测试: plugin=%s duration=%s", stt.Label(), frame.Duration())

	go func() {
		// 尾部补一秒静音，让服务端提交最后一句
		silence := audio.Frame{Samples: make([]int16, stt.SampleRate()), SampleRate: stt.SampleRate(), Channels: 1}
		for _, f := range append(frame.Split(frameDuration), silence.Split(frameDuration)...) {
			if err := stream.Push(f); err != nil {
				log.Printf("[WARN] 推送音频失败: %v", err)
				return
			}
			time.Sleep(frameDuration)
		}
	}()

	var transcript []string
	for {
		select {
		case <-ctx.Done():
			log.Printf("STT 结束: %v", ctx.Err())
			log.Printf("识别结果: %q", strings.Join(transcript, " "))
			return
		case ev, ok := <-stream.Events():
			if !ok {
				log.Printf("识别结果: %q", strings.Join(transcript, " "))
				return
			}
			switch ev.Type {
			case agent.SpeechInterim:
				log.Printf("interim: %s", ev.Text)
			case agent.SpeechFinal:
				log.Printf("final: %s (confidence=%.2f)", ev.Text, ev.Confidence)
				transcript = append(transcript, ev.Text)
			case agent.SpeechEndOfTurn:
				log.Printf("识别结果: %q", strings.Join(transcript, " "))
				return
			case agent.SpeechError:
				log.Fatalf("STT 调用失败: %v", ev.Err)
			}
		}
	}
}

func runTTS(ctx context.Context, registry *plugins.Registry, spec plugins.ProviderSpec, text, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.wav", time.Now().Unix())
	}

	tts, err := registry.TTS(ctx, spec)
	if err != nil {
		log.Fatalf("创建 TTS 失败: %v", err)
	}

	log.Printf("开始进行 TTS 测试: plugin=%s", tts.Label())
	started := time.Now()

	stream, err := tts.Synthesize(ctx, text)
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}
	defer stream.Close()

	out := audio.Frame{SampleRate: tts.SampleRate(), Channels: 1}
	for {
		f, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Fatalf("TTS 调用失败: %v", err)
		}
		if out.Empty() {
			log.Printf("首包延迟 %s", time.Since(started))
		}
		if f.SampleRate != out.SampleRate {
			if f, err = audio.Resample(f, out.SampleRate); err != nil {
				log.Fatalf("重采样失败: %v", err)
			}
		}
		out.Samples = append(out.Samples, f.Mono().Samples...)
	}

	if err := os.WriteFile(outputPath, audio.EncodeWAV(out), 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}
	log.Printf("TTS 合成成功: 输出文件 %s, 时长=%s", outputPath, out.Duration())
}
