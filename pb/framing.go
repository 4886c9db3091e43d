package pb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Length-delimited framing shared by the TCP and WebSocket transports:
// a uvarint byte length followed by the encoded message.

// AppendFrame appends data to dst with a uvarint length prefix.
func AppendFrame(dst, data []byte) []byte {
	dst = protowire.AppendVarint(dst, uint64(len(data)))
	return append(dst, data...)
}

// ConsumeFrame reads one frame from b, returning the payload and the total
// number of bytes consumed (prefix included). The payload aliases b.
func ConsumeFrame(b []byte) ([]byte, int, error) {
	size, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("pb: bad frame prefix: %w", protowire.ParseError(n))
	}
	if uint64(len(b)-n) < size {
		return nil, 0, io.ErrUnexpectedEOF
	}
	return b[n : n+int(size)], n + int(size), nil
}

// WriteFrame writes one framed message to w.
func WriteFrame(w io.Writer, data []byte) error {
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(data)))
	if _, err := w.Write(prefix[:n]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one framed message from br, rejecting frames larger
// than maxSize.
func ReadFrame(br *bufio.Reader, maxSize int) ([]byte, error) {
	size, err := binary.ReadUvarint(br)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && size > uint64(maxSize) {
		return nil, fmt.Errorf("pb: frame of %d bytes exceeds limit %d", size, maxSize)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, err
	}
	return data, nil
}
