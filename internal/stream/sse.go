package stream

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"amlwatch/internal/model"
)

type SSESource struct {
	url  string
	http *http.Client
}

// NewSSESource builds a Server-Sent Events source. hc must not carry a
// request timeout; the connection lives until its context ends.
func NewSSESource(url string, hc *http.Client) *SSESource {
	if hc == nil {
		hc = &http.Client{}
	}
	return &SSESource{url: url, http: hc}
}

func (s *SSESource) Connect(ctx context.Context, token string) (FrameReader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("connect stream: %w", model.ErrAuthorizationRejected)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("connect stream: unexpected status %d", resp.StatusCode)
	}
	return &sseFrames{body: resp.Body, events: NewSSEReader(resp.Body)}, nil
}

type sseFrames struct {
	body   io.ReadCloser
	events *SSEReader
}

func (f *sseFrames) Next(context.Context) ([]byte, error) {
	_, data, err := f.events.ReadEvent()
	return data, err
}

func (f *sseFrames) Close() error {
	return f.body.Close()
}

// SSEReader splits a text/event-stream body into events. Multiple data lines
// are joined with "\n"; comments and id/retry fields are skipped.
type SSEReader struct {
	reader *bufio.Reader
}

func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent returns the next event's type and data, or io.EOF once the
// stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var data [][]byte
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(data) > 0 {
				return eventType, bytes.Join(data, []byte("\n")), nil
			}
			return "", nil, err
		}
		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(data) > 0 {
				return eventType, bytes.Join(data, []byte("\n")), nil
			}
			eventType = ""
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			eventType = string(value)
		case "data":
			data = append(data, value)
		}
	}
}
