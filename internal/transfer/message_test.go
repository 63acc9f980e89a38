package transfer

import (
	"bytes"
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []Message{
		Handshake{Filename: "report.pdf", Size: 4096, Checksum: "deadbeef"},
		HandshakeAck{Accepted: true},
		HandshakeAck{Accepted: false, Reason: "checksum mismatch"},
		DataChunk{Sequence: 7, Data: []byte("some chunk bytes")},
		DataAck{Sequence: 7, Status: AckOk},
		DataAck{Sequence: 7, Status: AckRetry},
		DataAck{Sequence: 7, Status: AckError},
		TransferComplete{Checksum: "abc123"},
		WireError{Code: string(CodeProtocolError), Message: "bad frame"},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, want); err != nil {
			t.Fatalf("WriteMessage(%#v): %v", want, err)
		}
		got, err := ReadMessage(&buf)
		if err != nil {
			t.Fatalf("ReadMessage after %#v: %v", want, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch: want %#v, got %#v", want, got)
		}
	}
}

func TestReadMessageRejectsOversizeFrame(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	big := uint32(MaxFrameSize + 1)
	lenBuf[0] = byte(big >> 24)
	lenBuf[1] = byte(big >> 16)
	lenBuf[2] = byte(big >> 8)
	lenBuf[3] = byte(big)
	buf.Write(lenBuf)

	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error for oversize frame, got nil")
	}
}

func TestReadMessageRejectsUnknownTag(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 15})
	buf.WriteString(`{"tag":"BOGUS"}`)

	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error for unknown tag, got nil")
	}
}

func TestReadMessageRejectsHandshakeWithoutFilename(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, Handshake{Size: 10}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error for handshake missing filename, got nil")
	}
}

func TestReadMessageClosedStream(t *testing.T) {
	var buf bytes.Buffer // empty: simulates a peer that closed before sending anything
	if _, err := ReadMessage(&buf); err == nil {
		t.Fatal("expected error reading from empty stream, got nil")
	}
}
