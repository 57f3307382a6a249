// Package ipc implements the duplex transport between the privileged service
// and the UI companion in the interactive session. Frames are length-prefixed
// JSON; the channel carries commands only, never bulk data (screenshots are
// handed over as file paths).
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/guardline/agent/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxFrameSize rejects runaway frames; commands fit well under it.
const maxFrameSize = 64 * 1024

// PipeName is the well-known endpoint name shared by service and companion.
const PipeName = "guardline-ipc"

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, f domain.Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed frame, blocking until a full frame or
// a transport error.
func ReadFrame(r io.Reader) (domain.Frame, error) {
	var f domain.Frame

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return f, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size == 0 || size > maxFrameSize {
		return f, fmt.Errorf("invalid frame size %d", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return f, err
	}
	if err := json.Unmarshal(payload, &f); err != nil {
		return f, fmt.Errorf("failed to decode frame: %w", err)
	}
	return f, nil
}
