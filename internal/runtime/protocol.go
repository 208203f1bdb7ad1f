package runtime

import (
	"encoding/binary"
	"fmt"
	"io"
)

// recvExact reads exactly n bytes from r, in chunks no larger than
// chunkSize, mirroring the Python runtime's _recv_exact.
func recvExact(r io.Reader, n int, chunkSize int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		want := n - read
		if want > chunkSize {
			want = chunkSize
		}
		k, err := r.Read(buf[read : read+want])
		if k == 0 && err != nil {
			return nil, fmt.Errorf("connection closed while reading: %w", err)
		}
		read += k
	}
	return buf, nil
}

// readFrame reads a 4-byte big-endian length prefix followed by that
// many bytes of payload.
func readFrame(r io.Reader, chunkSize int) ([]byte, error) {
	header, err := recvExact(r, 4, chunkSize)
	if err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header)
	return recvExact(r, int(length), chunkSize)
}

// writeFrame writes data prefixed with its 4-byte big-endian length.
func writeFrame(w io.Writer, data []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(data)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
