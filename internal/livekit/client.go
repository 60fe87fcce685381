// Package livekit 封装房间服务接口与会话使用的房间连接。
package livekit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/zhouzirui/z-podcast/backend/internal/config"
)

const tokenTTL = 24 * time.Hour

// ErrRoomNameRequired 房间名为空
var ErrRoomNameRequired = errors.New("room name is required")

// Client 负责签发令牌、管理房间与派发 agent
type Client struct {
	url       string
	apiKey    string
	apiSecret string
}

// NewClient 创建客户端
func NewClient(cfg config.LiveKitConfig) *Client {
	return &Client{
		url:       cfg.URL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
	}
}

// URL 返回服务地址
func (c *Client) URL() string { return c.url }

// GenerateToken 为参与者签发加入房间的 JWT，agent 身份可以更新自身元数据。
func (c *Client) GenerateToken(roomName, identity, name string, isAgent bool) (string, error) {
	if roomName == "" {
		return "", ErrRoomNameRequired
	}
	at := auth.NewAccessToken(c.apiKey, c.apiSecret)

	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	if isAgent {
		t := true
		grant.Agent = true
		grant.CanUpdateOwnMetadata = &t
	}

	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(tokenTTL)

	return at.ToJWT()
}

// WorkerToken 签发 agent 进程注册用的令牌，不绑定房间。
func (c *Client) WorkerToken() (string, error) {
	at := auth.NewAccessToken(c.apiKey, c.apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{Agent: true}).SetValidFor(tokenTTL)
	return at.ToJWT()
}

// CreateRoom 创建房间，空房间超时后由服务端回收。
func (c *Client) CreateRoom(ctx context.Context, roomName string) (*livekit.Room, error) {
	if roomName == "" {
		return nil, ErrRoomNameRequired
	}
	roomClient := lksdk.NewRoomServiceClient(c.url, c.apiKey, c.apiSecret)

	room, err := roomClient.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:         roomName,
		EmptyTimeout: 300,
	})
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", roomName, err)
	}

	log.Printf("[livekit] created room: %s", roomName)
	return room, nil
}

// DeleteRoom 删除房间
func (c *Client) DeleteRoom(ctx context.Context, roomName string) error {
	roomClient := lksdk.NewRoomServiceClient(c.url, c.apiKey, c.apiSecret)
	if _, err := roomClient.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName}); err != nil {
		return fmt.Errorf("delete room %s: %w", roomName, err)
	}
	return nil
}

// Dispatch 显式派发指定名称的 agent 到房间。
func (c *Client) Dispatch(ctx context.Context, roomName, agentName, metadata string) (*livekit.AgentDispatch, error) {
	if roomName == "" {
		return nil, ErrRoomNameRequired
	}
	dispatchClient := lksdk.NewAgentDispatchServiceClient(c.url, c.apiKey, c.apiSecret)

	dispatch, err := dispatchClient.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		AgentName: agentName,
		Room:      roomName,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch agent %q to %s: %w", agentName, roomName, err)
	}
	log.Printf("[livekit] dispatched agent=%q room=%s id=%s", agentName, roomName, dispatch.GetId())
	return dispatch, nil
}

// JoinRoomAsAgent 以 agent 身份加入房间并返回可供会话使用的 Room。
func (c *Client) JoinRoomAsAgent(ctx context.Context, roomName, identity string) (*Room, error) {
	token, err := c.GenerateToken(roomName, identity, identity, true)
	if err != nil {
		return nil, err
	}
	return c.ConnectWithToken(ctx, token)
}

// ConnectWithToken 使用已签发的令牌连接房间。
func (c *Client) ConnectWithToken(ctx context.Context, token string) (*Room, error) {
	return c.ConnectURL(ctx, c.url, token)
}

// ConnectURL 连接指定地址的房间，任务分配可能给出与注册地址不同的服务器。
func (c *Client) ConnectURL(ctx context.Context, url, token string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if url == "" {
		url = c.url
	}

	room := newRoom()
	lkRoom, err := lksdk.ConnectToRoomWithToken(url, token, room.callback())
	if err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}
	room.attach(lkRoom)

	log.Printf("[livekit] joined room: %s as %s", lkRoom.Name(), lkRoom.LocalParticipant.Identity())
	return room, nil
}
