package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"amlwatch/internal/model"
)

type WebSocketSource struct {
	url    string
	dialer *websocket.Dialer
}

func NewWebSocketSource(url string) *WebSocketSource {
	return &WebSocketSource{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (s *WebSocketSource) Connect(ctx context.Context, token string) (FrameReader, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("connect stream: %w", model.ErrAuthorizationRejected)
		}
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return &wsFrames{conn: conn, stop: stop}, nil
}

type wsFrames struct {
	conn *websocket.Conn
	stop func() bool
}

func (f *wsFrames) Next(context.Context) ([]byte, error) {
	for {
		kind, data, err := f.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (f *wsFrames) Close() error {
	f.stop()
	err := f.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
