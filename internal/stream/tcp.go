package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// TCPSource reads newline-delimited JSON from a plain TCP peer. When a token
// is present it is sent first as "Bearer <token>\n".
type TCPSource struct {
	addr   string
	dialer net.Dialer
}

func NewTCPSource(addr string) *TCPSource {
	addr = strings.TrimPrefix(addr, "tcp://")
	return &TCPSource{addr: addr, dialer: net.Dialer{Timeout: 10 * time.Second}}
}

func (s *TCPSource) Connect(ctx context.Context, token string) (FrameReader, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if token != "" {
		if _, err := io.WriteString(conn, "Bearer "+token+"\n"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("send credentials: %w", err)
		}
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	return &tcpFrames{conn: conn, scanner: scanner, stop: stop}, nil
}

type tcpFrames struct {
	conn    net.Conn
	scanner *bufio.Scanner
	stop    func() bool
}

func (f *tcpFrames) Next(context.Context) ([]byte, error) {
	for f.scanner.Scan() {
		line := f.scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (f *tcpFrames) Close() error {
	f.stop()
	if err := f.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
