package sidecar

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/asya-run/asya/internal/config"
)

// RuntimeClient dials the local runtime's Unix socket and makes a
// single framed request per connection, matching the runtime's
// one-connection-per-request contract.
type RuntimeClient struct {
	socketPath string
	chunkSize  int
	dialer     net.Dialer
}

func NewRuntimeClient(socketPath string) *RuntimeClient {
	return &RuntimeClient{socketPath: socketPath, chunkSize: 65536}
}

// Outcome is the classified result of one runtime call.
type Outcome struct {
	// Envelopes holds the output envelopes on success.
	Envelopes []json.RawMessage
	// ErrorRecord holds the single-element error payload the runtime
	// returned instead of envelopes.
	ErrorRecord json.RawMessage
}

func (o Outcome) IsError() bool {
	return o.ErrorRecord != nil
}

// Call opens a fresh connection, sends env, and returns the classified
// response. deadline bounds the whole round trip (connect + write +
// read), matching the sidecar's per-hop timeout.
func (c *RuntimeClient) Call(ctx context.Context, env []byte, deadline time.Duration) (Outcome, error) {
	dialCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return Outcome{}, fmt.Errorf("connection_error: dialing runtime: %w", err)
	}
	defer conn.Close()

	if ddl, ok := dialCtx.Deadline(); ok {
		conn.SetDeadline(ddl)
	}

	if err := writeFrame(conn, env); err != nil {
		return Outcome{}, fmt.Errorf("connection_error: writing request: %w", err)
	}

	data, err := readFrame(conn, c.chunkSize)
	if err != nil {
		return Outcome{}, fmt.Errorf("timeout_error: reading response: %w", err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Outcome{}, fmt.Errorf("msg_parsing_error: decoding runtime response: %w", err)
	}

	if len(raw) == 1 && looksLikeErrorRecord(raw[0]) {
		return Outcome{ErrorRecord: raw[0]}, nil
	}
	return Outcome{Envelopes: raw}, nil
}

func looksLikeErrorRecord(raw json.RawMessage) bool {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Error != ""
}

func writeFrame(conn net.Conn, data []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	if _, err := conn.Write(header); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}

func readFrame(conn net.Conn, chunkSize int) ([]byte, error) {
	header, err := recvExact(conn, 4, chunkSize)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	return recvExact(conn, int(length), chunkSize)
}

func recvExact(conn net.Conn, n, chunkSize int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		want := n - read
		if want > chunkSize {
			want = chunkSize
		}
		k, err := conn.Read(buf[read : read+want])
		if k == 0 && err != nil {
			return nil, err
		}
		read += k
	}
	return buf, nil
}

// WaitForReady polls for the runtime's ready marker file using cfg's
// backoff policy, so the sidecar's first request never races the
// runtime's socket bind.
func WaitForReady(ctx context.Context, readyPath string, backoff config.Backoff) error {
	start := time.Now()
	attempt := 0
	for {
		if fileExists(readyPath) {
			return nil
		}
		if time.Since(start) > backoff.MaxElapsed {
			return fmt.Errorf("sidecar: runtime not ready after %s", backoff.MaxElapsed)
		}
		select {
		case <-time.After(backoff.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
		attempt++
	}
}
