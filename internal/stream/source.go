package stream

import (
	"context"
	"fmt"
	"net/http"

	"amlwatch/internal/config"
)

// FrameReader yields the raw text payloads of one live connection. Next
// returns io.EOF when the peer ends the channel.
type FrameReader interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Source opens a connection scoped to the given bearer token. A credential
// refused by the peer is reported as model.ErrAuthorizationRejected.
type Source interface {
	Connect(ctx context.Context, token string) (FrameReader, error)
}

func NewSource(cfg config.StreamConfig, hc *http.Client) (Source, error) {
	switch cfg.Transport {
	case config.TransportSSE:
		return NewSSESource(cfg.URL, hc), nil
	case config.TransportWebSocket:
		return NewWebSocketSource(cfg.URL), nil
	case config.TransportTCP:
		return NewTCPSource(cfg.URL), nil
	case config.TransportKafka:
		return NewKafkaSource(cfg.Kafka), nil
	default:
		return nil, fmt.Errorf("unsupported stream transport %q", cfg.Transport)
	}
}
