// Package ipc implements the daemon's wire protocol: length-delimited JSON
// framing (§4.1) plus the Request/Response/Operation envelope types. Frame
// format and size limit are taken literally from the original protocol
// module this daemon's IPC surface was distilled from.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize is the largest frame the daemon accepts, matching §8's
// boundary test: exactly 16 MiB succeeds, 16 MiB+1 fails.
const MaxMessageSize uint32 = 16 * 1024 * 1024

// ErrMessageTooLarge is returned by WriteFrame/ReadFrame when a frame
// exceeds MaxMessageSize.
var ErrMessageTooLarge = errors.New("ipc: message too large")

// WriteFrame writes a 4-byte big-endian length prefix followed by data.
func WriteFrame(w io.Writer, data []byte) error {
	if uint32(len(data)) > MaxMessageSize || len(data) > int(MaxMessageSize) {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, len(data), MaxMessageSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads a 4-byte big-endian length prefix followed by that many
// bytes. It returns ErrMessageTooLarge without consuming the payload bytes
// when the declared length exceeds MaxMessageSize.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLarge, n, MaxMessageSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
