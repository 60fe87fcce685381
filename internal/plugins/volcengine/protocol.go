// Package volcengine 实现火山引擎语音服务的流式识别与合成插件。
package volcengine

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

const protocolVersion = 0b0001

// MessageType 消息类型
type MessageType uint8

const (
	FullClientRequest       MessageType = 0b0001
	AudioOnlyRequest        MessageType = 0b0010
	FullServerResponse      MessageType = 0b1001
	AudioOnlyServerResponse MessageType = 0b1011
	ErrorMessage            MessageType = 0b1111
)

// Flags 低两位描述序号，WithEvent 表示携带事件元数据
type Flags uint8

const (
	NoSequence       Flags = 0b0000
	PositiveSequence Flags = 0b0001
	LastNoSequence   Flags = 0b0010
	NegativeSequence Flags = 0b0011
	WithEvent        Flags = 0b0100
)

// Event 服务端事件
type Event int32

const (
	EventNone               Event = 0
	EventStartConnection    Event = 1
	EventFinishConnection   Event = 2
	EventConnectionStarted  Event = 50
	EventConnectionFailed   Event = 51
	EventConnectionFinished Event = 52
	EventSessionStarted     Event = 150
	EventSessionFinished    Event = 152
	EventSessionFailed      Event = 153
)

// Serialization 负载序列化方式
type Serialization uint8

const (
	RawSerialization  Serialization = 0b0000
	JSONSerialization Serialization = 0b0001
)

// Compression 负载压缩方式
type Compression uint8

const (
	NoCompression   Compression = 0b0000
	GzipCompression Compression = 0b0001
)

// Packet 一条二进制协议消息，头部固定 4 字节。
type Packet struct {
	Type          MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
	Sequence      int32
	Event         Event
	SessionID     string
	ConnectID     string
	ErrorCode     uint32
	Payload       []byte
}

// NewClientRequest 携带 JSON 参数的首包。
func NewClientRequest(payload []byte, compression Compression) (*Packet, error) {
	body, err := compress(payload, compression)
	if err != nil {
		return nil, err
	}
	return &Packet{
		Type:          FullClientRequest,
		Flags:         NoSequence,
		Serialization: JSONSerialization,
		Compression:   compression,
		Payload:       body,
	}, nil
}

// NewAudioRequest 音频分包，最后一包使用负序号。
func NewAudioRequest(pcm []byte, sequence int32, last bool, compression Compression) (*Packet, error) {
	body, err := compress(pcm, compression)
	if err != nil {
		return nil, err
	}

	flags := NoSequence
	switch {
	case last && sequence != 0:
		flags = NegativeSequence
		sequence = -sequence
	case last:
		flags = LastNoSequence
	case sequence > 0:
		flags = PositiveSequence
	}

	return &Packet{
		Type:          AudioOnlyRequest,
		Flags:         flags,
		Serialization: RawSerialization,
		Compression:   compression,
		Sequence:      sequence,
		Payload:       body,
	}, nil
}

// Marshal 编码为线上格式，整数均为大端序。
func (p *Packet) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(protocolVersion<<4 | 0b0001)
	buf.WriteByte(uint8(p.Type)<<4 | uint8(p.Flags))
	buf.WriteByte(uint8(p.Serialization)<<4 | uint8(p.Compression))
	buf.WriteByte(0)

	if p.hasSequence() {
		writeUint32(&buf, uint32(p.Sequence))
	}
	if p.Flags&WithEvent == WithEvent {
		writeUint32(&buf, uint32(p.Event))
		if !p.Event.skipsSessionID() {
			writeString(&buf, p.SessionID)
		}
		if p.Event.hasConnectID() {
			writeString(&buf, p.ConnectID)
		}
	}
	if p.Type == ErrorMessage {
		writeUint32(&buf, p.ErrorCode)
	}
	writeUint32(&buf, uint32(len(p.Payload)))
	buf.Write(p.Payload)
	return buf.Bytes()
}

// Unmarshal 解码一条完整消息，负载按头部声明解压。
func Unmarshal(data []byte) (*Packet, error) {
	r := bytes.NewReader(data)

	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if version := head[0] >> 4; version != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", version)
	}
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return nil, fmt.Errorf("read extended header: %w", err)
		}
	}

	p := &Packet{
		Type:          MessageType(head[1] >> 4),
		Flags:         Flags(head[1] & 0x0F),
		Serialization: Serialization(head[2] >> 4),
		Compression:   Compression(head[2] & 0x0F),
	}

	if p.hasSequence() {
		seq, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
		p.Sequence = int32(seq)
	}

	if p.Flags&WithEvent == WithEvent {
		event, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		p.Event = Event(int32(event))
		if !p.Event.skipsSessionID() {
			if p.SessionID, err = readString(r); err != nil {
				return nil, fmt.Errorf("read session id: %w", err)
			}
		}
		if p.Event.hasConnectID() {
			if p.ConnectID, err = readString(r); err != nil {
				return nil, fmt.Errorf("read connect id: %w", err)
			}
		}
	}

	if p.Type == ErrorMessage {
		code, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
		p.ErrorCode = code
	}

	size, err := readUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read payload (expected %d bytes): %w", size, err)
	}
	if p.Payload, err = decompress(body, p.Compression); err != nil {
		return nil, err
	}
	return p, nil
}

// IsLast 判断是否为最后一包。
func (p *Packet) IsLast() bool {
	switch p.Flags & 0b0011 {
	case LastNoSequence, NegativeSequence:
		return true
	}
	return false
}

func (p *Packet) hasSequence() bool {
	switch p.Flags & 0b0011 {
	case PositiveSequence, NegativeSequence:
		return true
	}
	return false
}

func (e Event) skipsSessionID() bool {
	switch e {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	}
	return false
}

func (e Event) hasConnectID() bool {
	switch e {
	case EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	}
	return false
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readString(r io.Reader) (string, error) {
	size, err := readUint32(r)
	if err != nil || size == 0 {
		return "", err
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func compress(data []byte, method Compression) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported compression method: %d", method)
}

func decompress(data []byte, method Compression) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		if len(data) == 0 {
			return nil, nil
		}
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader creation failed: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("gzip read failed: %w", err)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported compression method: %d", method)
}
