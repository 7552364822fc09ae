// Package upstream implements the upstream stream parser (spec §4.H): frame
// demuxing of the Kiro backend's length-prefixed binary stream, JSON event
// decoding, tool-use fragment aggregation, the bracket-tool-call fallback
// scanner, and the first-token watchdog. It also holds the outbound HTTP
// client that dispatches requests to the fixed upstream host.
package upstream

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameLength is the hard cap on one frame's JSON payload (spec §4.H):
// exceeding it is a framing error, not a protocol error, since a
// miscounted length can never be recovered from.
const MaxFrameLength = 16 * 1024 * 1024

// FrameError reports a fatal framing problem: short read or an
// out-of-bounds length prefix.
type FrameError struct {
	Msg string
}

func (e *FrameError) Error() string { return "framing: " + e.Msg }

// ReadFrame reads one [4-byte big-endian length][payload] frame from r. EOF
// at the length boundary is returned as io.EOF; any other short read or an
// over-limit length is a *FrameError.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Msg: fmt.Sprintf("short read on length prefix: %v", err)}
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameLength {
		return nil, &FrameError{Msg: fmt.Sprintf("frame length %d exceeds %d byte cap", length, MaxFrameLength)}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FrameError{Msg: fmt.Sprintf("short read on payload of length %d: %v", length, err)}
	}
	return payload, nil
}
