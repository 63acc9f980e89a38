package transfer

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// cancelPollInterval is the short-interval poll the engines race against
// suspending I/O to observe the cancel flag.
const cancelPollInterval = 100 * time.Millisecond

// progressFn is called after every chunk is sent/received so the caller can
// push FIFO-ordered progress into the session store and emit Progress events.
type progressFn func(bytesTransferred int64)

// watchCancel races a cancel flag against ctx, cancelling the returned
// context's Done channel the moment the flag flips — the cooperative-select
// pattern instead of an ad hoc polling goroutine per call.
func watchCancel(parent context.Context, cancel *cancelFlag) (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if cancel.IsSet() {
					stop()
					return
				}
			}
		}
	}()
	return ctx, func() { close(done); stop() }
}

// RunStreamSender drives the reliable-stream sender state machine: each
// chunk is written and acknowledged before the next is sent, generalized
// onto the length-prefixed codec so Retry/Error acks are expressible, over
// a plain TCP connection.
func RunStreamSender(parent context.Context, cfg Config, filePath string, cancel *cancelFlag, onProgress progressFn) (checksum string, totalBytes int64, err *TransferError) {
	ctx, stop := watchCancel(parent, cancel)
	defer stop()

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, dialErr := dialer.DialContext(ctx, "tcp", cfg.PeerAddress)
	if dialErr != nil {
		if cancel.IsSet() {
			return "", 0, New(CodeCancelled, false, "cancelled before connect", nil)
		}
		te := classifyRaw(dialErr)
		if te.Code == CodeUnknown || te.Code == CodeNetworkError {
			te = New(CodeConnectionRefused, true, "Cannot connect to receiver", dialErr)
		}
		return "", 0, te.WithContext("Cannot connect to receiver at " + cfg.PeerAddress)
	}
	defer conn.Close()

	digest, digestErr := DigestFile(filePath)
	if digestErr != nil {
		return "", 0, AsTransferError(digestErr)
	}

	chunker, openErr := OpenChunkerForRead(filePath, cfg.ChunkSize)
	if openErr != nil {
		return "", 0, AsTransferError(openErr)
	}
	defer chunker.Close()

	setDeadline(conn, cfg.Timeout)
	if werr := WriteMessage(conn, Handshake{
		Filename: filepath.Base(filePath),
		Size:     chunker.FileSize(),
		Checksum: digest,
	}); werr != nil {
		return "", 0, AsTransferError(werr)
	}

	setDeadline(conn, cfg.Timeout)
	ackMsg, rerr := ReadMessage(conn)
	if rerr != nil {
		return "", 0, AsTransferError(rerr)
	}
	ack, ok := ackMsg.(HandshakeAck)
	if !ok || !ack.Accepted {
		return "", 0, New(CodeProtocolError, false, "handshake rejected by receiver", nil)
	}

	var sent int64
	seq := 0
	for int64(seq) < chunker.TotalChunks() {
		if cancel.IsSet() {
			return "", sent, New(CodeCancelled, false, "transfer cancelled", nil)
		}

		data, rerr := chunker.ReadChunk(int64(seq))
		if rerr != nil {
			return "", sent, AsTransferError(rerr)
		}

		acked := false
		for !acked {
			setDeadline(conn, cfg.Timeout)
			if werr := WriteMessage(conn, DataChunk{Sequence: seq, Data: data}); werr != nil {
				return "", sent, AsTransferError(werr)
			}

			setDeadline(conn, cfg.Timeout)
			respMsg, rerr := ReadMessage(conn)
			if rerr != nil {
				return "", sent, AsTransferError(rerr)
			}
			resp, ok := respMsg.(DataAck)
			if !ok {
				if we, ok := respMsg.(WireError); ok {
					return "", sent, New(CodeProtocolError, false, we.Message, nil)
				}
				return "", sent, New(CodeProtocolError, false, "unexpected message, expected DataAck", nil)
			}
			if resp.Sequence != seq {
				return "", sent, New(CodeProtocolError, false, "ack sequence mismatch", nil)
			}
			switch resp.Status {
			case AckOk:
				sent += int64(len(data))
				onProgress(sent)
				acked = true
			case AckRetry:
				continue // resend same chunk
			case AckError:
				return "", sent, New(CodePeerChunkError, true, "peer reported chunk error", nil)
			default:
				return "", sent, New(CodeProtocolError, false, "unknown ack status", nil)
			}
		}
		seq++
	}

	setDeadline(conn, cfg.Timeout)
	if werr := WriteMessage(conn, TransferComplete{Checksum: digest}); werr != nil {
		return "", sent, AsTransferError(werr)
	}

	setDeadline(conn, cfg.Timeout)
	finalMsg, rerr := ReadMessage(conn)
	if rerr != nil {
		return "", sent, AsTransferError(rerr)
	}
	final, ok := finalMsg.(HandshakeAck)
	if !ok || !final.Accepted {
		reason := ""
		if ok {
			reason = final.Reason
		}
		return "", sent, New(CodeChecksumMismatch, true, "receiver reported checksum mismatch", nil).WithContext(reason)
	}

	return digest, sent, nil
}

// RunStreamReceiver drives the reliable-stream receiver state machine: accept
// the handshake, then read and acknowledge each chunk in order. onTotal is
// called once with the handshake's declared file size, before any chunk is
// written, so the caller can record the negotiated total against the session.
func RunStreamReceiver(parent context.Context, cfg Config, cancel *cancelFlag, onTotal func(int64), onProgress progressFn) (filePath, peer, checksum string, totalBytes int64, err *TransferError) {
	ctx, stop := watchCancel(parent, cancel)
	defer stop()

	lc := net.ListenConfig{}
	ln, listenErr := lc.Listen(ctx, "tcp", addrForPort(cfg.BindPort))
	if listenErr != nil {
		return "", "", "", 0, New(CodeBind, false, "failed to bind receiver port", listenErr).WithContext(addrForPort(cfg.BindPort))
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptCh <- conn
	}()

	var conn net.Conn
	select {
	case conn = <-acceptCh:
	case aerr := <-errCh:
		return "", "", "", 0, New(CodeNetworkError, true, "accept failed", aerr)
	case <-time.After(cfg.Timeout):
		ln.Close()
		return "", "", "", 0, New(CodeTimeout, true, "timed out waiting for sender", nil).WithContext("accept")
	case <-ctx.Done():
		return "", "", "", 0, New(CodeCancelled, false, "cancelled before accept", nil)
	}
	defer conn.Close()
	peer = conn.RemoteAddr().String()

	setDeadline(conn, cfg.Timeout)
	hsMsg, rerr := ReadMessage(conn)
	if rerr != nil {
		return "", peer, "", 0, AsTransferError(rerr)
	}
	hs, ok := hsMsg.(Handshake)
	if !ok {
		return "", peer, "", 0, New(CodeProtocolError, false, "expected handshake", nil)
	}
	if strings.ContainsAny(hs.Filename, `/\`) {
		return "", peer, "", 0, New(CodeProtocolError, false, "handshake filename must not contain path separators", nil).WithContext(hs.Filename)
	}
	if onTotal != nil {
		onTotal(hs.Size)
	}

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = "."
	}
	outPath := filepath.Join(outDir, hs.Filename)

	chunker, openErr := OpenChunkerForWrite(outPath, cfg.ChunkSize)
	if openErr != nil {
		return "", peer, "", 0, AsTransferError(openErr)
	}
	defer chunker.Close()

	setDeadline(conn, cfg.Timeout)
	if werr := WriteMessage(conn, HandshakeAck{Accepted: true}); werr != nil {
		return "", peer, "", 0, AsTransferError(werr)
	}

	expect := 0
	var received int64
	for {
		if cancel.IsSet() {
			return outPath, peer, "", received, New(CodeCancelled, false, "transfer cancelled", nil)
		}

		setDeadline(conn, cfg.Timeout)
		msg, rerr := ReadMessage(conn)
		if rerr != nil {
			return outPath, peer, "", received, AsTransferError(rerr)
		}

		switch m := msg.(type) {
		case DataChunk:
			if m.Sequence != expect {
				setDeadline(conn, cfg.Timeout)
				_ = WriteMessage(conn, DataAck{Sequence: m.Sequence, Status: AckError})
				continue
			}
			if werr := chunker.WriteChunk(int64(expect), m.Data); werr != nil {
				return outPath, peer, "", received, AsTransferError(werr)
			}
			received += int64(len(m.Data))
			onProgress(received)
			expect++
			setDeadline(conn, cfg.Timeout)
			if werr := WriteMessage(conn, DataAck{Sequence: m.Sequence, Status: AckOk}); werr != nil {
				return outPath, peer, "", received, AsTransferError(werr)
			}

		case TransferComplete:
			actual, derr := DigestFile(outPath)
			if derr != nil {
				return outPath, peer, "", received, AsTransferError(derr)
			}
			matched := actual == m.Checksum
			setDeadline(conn, cfg.Timeout)
			ack := HandshakeAck{Accepted: matched}
			if !matched {
				ack.Reason = actual
			}
			_ = WriteMessage(conn, ack)
			if !matched {
				return outPath, peer, actual, received, New(CodeChecksumMismatch, true, "checksum mismatch", nil)
			}
			return outPath, peer, actual, received, nil

		default:
			return outPath, peer, "", received, New(CodeProtocolError, false, "unexpected message on stream", nil)
		}
	}
}

func setDeadline(conn net.Conn, d time.Duration) {
	if d > 0 {
		_ = conn.SetDeadline(time.Now().Add(d))
	}
}

func addrForPort(port int) string {
	return ":" + strconv.Itoa(port)
}
