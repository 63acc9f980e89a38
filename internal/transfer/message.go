package transfer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single length-prefixed frame.
const MaxFrameSize = 16 << 20 // 16 MiB

// MessageTag is the self-describing tag carried by every wire message.
type MessageTag string

const (
	TagHandshake        MessageTag = "HANDSHAKE"
	TagHandshakeAck     MessageTag = "HANDSHAKE_ACK"
	TagDataChunk        MessageTag = "DATA_CHUNK"
	TagDataAck          MessageTag = "DATA_ACK"
	TagTransferComplete MessageTag = "TRANSFER_COMPLETE"
	TagError            MessageTag = "ERROR"
)

// AckStatus is the status carried by a DataAck.
type AckStatus string

const (
	AckOk    AckStatus = "ok"
	AckRetry AckStatus = "retry"
	AckError AckStatus = "error"
)

// envelope is the single self-describing wire shape all messages share.
type envelope struct {
	Tag MessageTag `json:"tag"`

	// Handshake
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Checksum string `json:"checksum,omitempty"`

	// HandshakeAck
	Accepted bool   `json:"accepted,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// DataChunk / DataAck
	Sequence int       `json:"sequence,omitempty"`
	Data     []byte    `json:"data,omitempty"`
	Status   AckStatus `json:"status,omitempty"`

	// Error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Message is the interface all six wire payload variants satisfy.
type Message interface {
	tag() MessageTag
	toEnvelope() envelope
}

type Handshake struct {
	Filename string
	Size     int64
	Checksum string
}

func (h Handshake) tag() MessageTag { return TagHandshake }
func (h Handshake) toEnvelope() envelope {
	return envelope{Tag: TagHandshake, Filename: h.Filename, Size: h.Size, Checksum: h.Checksum}
}

type HandshakeAck struct {
	Accepted bool
	Reason   string
}

func (a HandshakeAck) tag() MessageTag { return TagHandshakeAck }
func (a HandshakeAck) toEnvelope() envelope {
	return envelope{Tag: TagHandshakeAck, Accepted: a.Accepted, Reason: a.Reason}
}

type DataChunk struct {
	Sequence int
	Data     []byte
}

func (d DataChunk) tag() MessageTag { return TagDataChunk }
func (d DataChunk) toEnvelope() envelope {
	return envelope{Tag: TagDataChunk, Sequence: d.Sequence, Data: d.Data}
}

type DataAck struct {
	Sequence int
	Status   AckStatus
}

func (a DataAck) tag() MessageTag { return TagDataAck }
func (a DataAck) toEnvelope() envelope {
	return envelope{Tag: TagDataAck, Sequence: a.Sequence, Status: a.Status}
}

type TransferComplete struct {
	Checksum string
}

func (c TransferComplete) tag() MessageTag { return TagTransferComplete }
func (c TransferComplete) toEnvelope() envelope {
	return envelope{Tag: TagTransferComplete, Checksum: c.Checksum}
}

type WireError struct {
	Code    string
	Message string
}

func (e WireError) tag() MessageTag { return TagError }
func (e WireError) toEnvelope() envelope {
	return envelope{Tag: TagError, Code: e.Code, Message: e.Message}
}

// EncodeMessage serializes a Message into a length-prefixed frame.
func EncodeMessage(m Message) ([]byte, error) {
	payload, err := json.Marshal(m.toEnvelope())
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return nil, New(CodeProtocolError, false, "frame exceeds maximum size", nil)
	}
	frame := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(payload)))
	copy(frame[4:], payload)
	return frame, nil
}

// WriteMessage frames and writes m to w.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	if err != nil {
		return New(CodeNetworkError, true, "failed to write frame", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame from r and decodes it.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, New(CodeNetworkError, false, "peer closed the stream", err)
		}
		return nil, New(CodeNetworkError, true, "failed to read frame length", err)
	}
	l := binary.BigEndian.Uint32(lenBuf[:])
	if l > MaxFrameSize {
		return nil, New(CodeProtocolError, false, "oversize frame rejected", nil)
	}
	payload := make([]byte, l)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, New(CodeNetworkError, true, "failed to read frame payload", err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, New(CodeProtocolError, false, "malformed frame payload", err)
	}

	switch env.Tag {
	case TagHandshake:
		if env.Filename == "" {
			return nil, New(CodeProtocolError, false, "handshake missing filename", nil)
		}
		return Handshake{Filename: env.Filename, Size: env.Size, Checksum: env.Checksum}, nil
	case TagHandshakeAck:
		return HandshakeAck{Accepted: env.Accepted, Reason: env.Reason}, nil
	case TagDataChunk:
		return DataChunk{Sequence: env.Sequence, Data: env.Data}, nil
	case TagDataAck:
		return DataAck{Sequence: env.Sequence, Status: env.Status}, nil
	case TagTransferComplete:
		return TransferComplete{Checksum: env.Checksum}, nil
	case TagError:
		return WireError{Code: env.Code, Message: env.Message}, nil
	default:
		return nil, New(CodeProtocolError, false, fmt.Sprintf("unknown message tag %q", env.Tag), nil)
	}
}
