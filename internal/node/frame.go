package node

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/byzhang/terrastore/internal/command"
)

// Status codes for a response frame (§6 wire protocol).
type Status uint8

const (
	StatusOK              Status = 0
	StatusProcessingError  Status = 1
	StatusValidationError  Status = 2
	StatusProtocolError    Status = 3
)

// maxFrameSize guards against a corrupt/hostile length prefix causing an
// unbounded allocation.
const maxFrameSize = 64 << 20 // 64 MiB

// requestFrame is the on-wire shape of a request (§6):
//
//	payload = uint64 requestId | uint16 kind | uint16 version | body
//
// wrapped in a length-prefixed frame (uint32 length | payload).
type requestFrame struct {
	RequestID uint64
	Kind      command.Kind
	Version   uint16
	Body      []byte
}

// responseFrame is the on-wire shape of a response (§6):
//
//	response = uint64 requestId | uint8 status | body
type responseFrame struct {
	RequestID uint64
	Status    Status
	Body      []byte
}

// writeRequest writes a length-prefixed request frame. All numeric fields
// are big-endian, per §6.
func writeRequest(w io.Writer, f requestFrame) error {
	payload := make([]byte, 8+2+2+len(f.Body))
	binary.BigEndian.PutUint64(payload[0:8], f.RequestID)
	binary.BigEndian.PutUint16(payload[8:10], uint16(f.Kind))
	binary.BigEndian.PutUint16(payload[10:12], f.Version)
	copy(payload[12:], f.Body)
	return writeFrame(w, payload)
}

func readRequest(r io.Reader) (requestFrame, error) {
	payload, err := readFrame(r)
	if err != nil {
		return requestFrame{}, err
	}
	if len(payload) < 12 {
		return requestFrame{}, fmt.Errorf("request frame too short: %d bytes", len(payload))
	}
	return requestFrame{
		RequestID: binary.BigEndian.Uint64(payload[0:8]),
		Kind:      command.Kind(binary.BigEndian.Uint16(payload[8:10])),
		Version:   binary.BigEndian.Uint16(payload[10:12]),
		Body:      payload[12:],
	}, nil
}

// writeResponse writes a length-prefixed response frame.
func writeResponse(w io.Writer, f responseFrame) error {
	payload := make([]byte, 8+1+len(f.Body))
	binary.BigEndian.PutUint64(payload[0:8], f.RequestID)
	payload[8] = byte(f.Status)
	copy(payload[9:], f.Body)
	return writeFrame(w, payload)
}

func readResponse(r io.Reader) (responseFrame, error) {
	payload, err := readFrame(r)
	if err != nil {
		return responseFrame{}, err
	}
	if len(payload) < 9 {
		return responseFrame{}, fmt.Errorf("response frame too short: %d bytes", len(payload))
	}
	return responseFrame{
		RequestID: binary.BigEndian.Uint64(payload[0:8]),
		Status:    Status(payload[8]),
		Body:      payload[9:],
	}, nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
