package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		header  string
	}{
		{"empty payload", "", "0000000000"},
		{"short payload", `{"type":"logout"}`, "0000000017"},
		{"binary-ish payload", "\x00\x01\x02", "0000000003"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := EncodeFrame([]byte(tt.payload))
			if err != nil {
				t.Fatalf("EncodeFrame() error = %v", err)
			}

			if got := string(frame[:HeaderLength]); got != tt.header {
				t.Errorf("header = %q, want %q", got, tt.header)
			}

			if got := string(frame[HeaderLength:]); got != tt.payload {
				t.Errorf("payload = %q, want %q", got, tt.payload)
			}
		})
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"type":"login","username":"alice","password":"s3cret"}`),
		[]byte(""),
		bytes.Repeat([]byte("x"), 4096),
	}

	var stream bytes.Buffer
	for _, p := range payloads {
		if err := WriteFrame(&stream, p); err != nil {
			t.Fatalf("WriteFrame() error = %v", err)
		}
	}

	fr := NewFrameReader(&stream)
	for i, want := range payloads {
		got, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame() #%d error = %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("ReadFrame() #%d = %d bytes, want %d bytes", i, len(got), len(want))
		}
	}

	if _, err := fr.ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame() after end = %v, want io.EOF", err)
	}
}

// oneByteReader delivers the stream a single byte at a time so a frame is
// always split across many reads.
type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestReadFrameSplitReads(t *testing.T) {
	payload := []byte(`{"type":"private","to":"bob","content":"hello"}`)
	frame, err := EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	fr := NewFrameReader(oneByteReader{bytes.NewReader(frame)})
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ReadFrame() = %q, want %q", got, payload)
	}
}

func TestReadFrameLeavesTrailingBytes(t *testing.T) {
	// A 10000-byte frame followed by a 2-byte frame: the first read must
	// consume exactly 10000 payload bytes and leave the rest intact.
	first := bytes.Repeat([]byte("a"), 10000)
	second := []byte("xy")

	var stream bytes.Buffer
	if err := WriteFrame(&stream, first); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}
	if err := WriteFrame(&stream, second); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	fr := NewFrameReader(&stream)

	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() #1 error = %v", err)
	}
	if len(got) != 10000 {
		t.Fatalf("ReadFrame() #1 = %d bytes, want 10000", len(got))
	}

	got, err = fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame() #2 error = %v", err)
	}
	if string(got) != "xy" {
		t.Errorf("ReadFrame() #2 = %q, want %q", got, "xy")
	}
}

func TestReadFrameBadHeader(t *testing.T) {
	tests := []struct {
		name   string
		stream string
	}{
		{"alphabetic header", "abcdefghij{}"},
		{"space-padded header", "42        {}"},
		{"negative length", "-000000012{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fr := NewFrameReader(strings.NewReader(tt.stream))
			if _, err := fr.ReadFrame(); !errors.Is(err, ErrFraming) {
				t.Errorf("ReadFrame() error = %v, want ErrFraming", err)
			}
		})
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	header := fmt.Sprintf("%0*d", HeaderLength, MaxPayloadSize+1)
	fr := NewFrameReader(strings.NewReader(header))

	if _, err := fr.ReadFrame(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("ReadFrame() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestEncodeFrameTooLarge(t *testing.T) {
	payload := make([]byte, MaxPayloadSize+1)
	if _, err := EncodeFrame(payload); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("EncodeFrame() error = %v, want ErrPayloadTooLarge", err)
	}
}
