package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var (
	ErrFraming          = errors.New("invalid frame length header")
	ErrMalformedPayload = errors.New("malformed frame payload")
	ErrPayloadTooLarge  = errors.New("frame payload exceeds limit")
)

const (
	// HeaderLength is the size of the ASCII decimal length prefix.
	HeaderLength = 10

	// MaxPayloadSize bounds a single frame. Sized to cover the file-share
	// ceiling (5 MiB of base64 content plus envelope overhead).
	MaxPayloadSize = 5*1024*1024 + 64*1024
)

// FrameReader decodes length-prefixed frames from a byte stream. Reads
// block only the calling goroutine; partial frames are buffered until the
// remaining bytes arrive. A FrameReader must not be used concurrently.
type FrameReader struct {
	br *bufio.Reader
}

// NewFrameReader wraps r for frame decoding.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{br: bufio.NewReader(r)}
}

// ReadFrame reads the next complete frame payload. It consumes exactly
// HeaderLength+length bytes from the stream, leaving any trailing bytes
// for the next call. Returns ErrFraming for a non-numeric header and
// ErrPayloadTooLarge when the declared length exceeds MaxPayloadSize.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	header := make([]byte, HeaderLength)
	if _, err := io.ReadFull(fr.br, header); err != nil {
		return nil, err
	}

	length, err := parseLength(header)
	if err != nil {
		return nil, err
	}

	if length > MaxPayloadSize {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrPayloadTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.br, payload); err != nil {
		return nil, err
	}

	return payload, nil
}

// parseLength parses the 10-byte zero-padded decimal header.
func parseLength(header []byte) (int, error) {
	length := 0
	for _, c := range header {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrFraming, header)
		}
		length = length*10 + int(c-'0')
	}
	return length, nil
}

// EncodeFrame returns the exact byte sequence for a payload: the
// zero-padded decimal header concatenated with the payload bytes.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, HeaderLength+len(payload))
	buf = fmt.Appendf(buf, "%0*d", HeaderLength, len(payload))
	buf = append(buf, payload...)
	return buf, nil
}

// WriteFrame encodes and writes a single frame.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}
