package upstream

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func writeFrame(buf *bytes.Buffer, payload []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)
}

func TestReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payloads := [][]byte{[]byte(`{"a":1}`), []byte(`{"b":"two"}`), []byte(`{}`)}
	for _, p := range payloads {
		writeFrame(&buf, p)
	}

	for i, want := range payloads {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("frame %d: ReadFrame() error = %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d: got %s, want %s", i, got, want)
		}
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Errorf("final ReadFrame() error = %v, want io.EOF", err)
	}
}

func TestReadFrameOverLengthCap(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxFrameLength+1)
	buf.Write(lenBuf[:])

	_, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("expected error for over-cap frame length")
	}
	if _, ok := err.(*FrameError); !ok {
		t.Fatalf("error type = %T, want *FrameError", err)
	}
}

func TestReadFrameShortRead(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 100)
	buf.Write(lenBuf[:])
	buf.Write([]byte("short"))

	_, err := ReadFrame(&buf)
	if err == nil {
		t.Fatal("expected error for short payload read")
	}
	if _, ok := err.(*FrameError); !ok {
		t.Fatalf("error type = %T, want *FrameError", err)
	}
}
