package transfer

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"
)

// datagramFinCount is how many consecutive zero-length datagrams arm the
// receiver's idle-timeout countdown.
const datagramFinCount = 3

// datagramFinBursts/datagramFinSpacing describe the sender's FIN marker burst.
const (
	datagramFinBursts  = 5
	datagramFinSpacing = 10 * time.Millisecond
)

// datagramPaceInterval is the nominal inter-chunk pacing delay, enforced
// through a golang.org/x/time/rate token bucket (one token per chunk)
// rather than a bare time.Sleep.
const datagramPaceInterval = 10 * time.Microsecond

// RunDatagramSender is the fire-and-forget UDP sender. It
// observes no peer state and produces no reliability guarantees: this is
// intentional and protocol-faithful, not a bug.
func RunDatagramSender(parent context.Context, cfg Config, filePath string, cancel *cancelFlag, onProgress progressFn) (checksum string, totalBytes int64, err *TransferError) {
	ctx, stop := watchCancel(parent, cancel)
	defer stop()

	raddr, rerr := net.ResolveUDPAddr("udp", cfg.PeerAddress)
	if rerr != nil {
		return "", 0, New(CodeConfigError, false, "invalid peer address", rerr).WithContext(cfg.PeerAddress)
	}

	// An unconnected socket: a connected one would surface ICMP port-unreachable
	// replies as write errors, i.e. observe peer state.
	conn, dialErr := net.ListenUDP("udp", &net.UDPAddr{})
	if dialErr != nil {
		return "", 0, classifyRaw(dialErr)
	}
	defer conn.Close()

	chunker, openErr := OpenChunkerForRead(filePath, cfg.ChunkSize)
	if openErr != nil {
		return "", 0, AsTransferError(openErr)
	}
	defer chunker.Close()

	limiter := rate.NewLimiter(rate.Every(datagramPaceInterval), 1)

	var sent int64
	for i := int64(0); i < chunker.TotalChunks(); i++ {
		if cancel.IsSet() {
			return "", sent, New(CodeCancelled, false, "transfer cancelled", nil)
		}
		if err := limiter.Wait(ctx); err != nil {
			return "", sent, New(CodeCancelled, false, "cancelled while pacing", err)
		}

		data, rerr := chunker.ReadChunk(i)
		if rerr != nil {
			return "", sent, AsTransferError(rerr)
		}
		if _, werr := conn.WriteToUDP(data, raddr); werr != nil {
			return "", sent, classifyRaw(werr)
		}
		sent += int64(len(data))
		onProgress(sent)
	}

	for i := 0; i < datagramFinBursts; i++ {
		if _, werr := conn.WriteToUDP(nil, raddr); werr != nil {
			break // best-effort FIN, fire-and-forget contract tolerates loss
		}
		time.Sleep(datagramFinSpacing)
	}

	digest, derr := DigestFile(filePath)
	if derr != nil {
		return "", sent, AsTransferError(derr)
	}
	return digest, sent, nil
}

// RunDatagramReceiver is the timeout-terminated UDP receiver.
// It writes every nonzero datagram verbatim in arrival order with no
// reassembly, dedup, or reordering. When the receive loop ends by timeout it
// completes successfully, even with zero bytes received. Cancellation returns
// CANCELLED; bind, file-write and digest failures are returned as errors.
func RunDatagramReceiver(parent context.Context, cfg Config, timestamp func() time.Time, cancel *cancelFlag, onProgress progressFn) (filePath, checksum string, totalBytes int64, err *TransferError) {
	ctx, stop := watchCancel(parent, cancel)
	defer stop()

	conn, listenErr := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.BindPort})
	if listenErr != nil {
		return "", "", 0, New(CodeBind, false, "failed to bind receiver port", listenErr).WithContext(addrForPort(cfg.BindPort))
	}
	defer conn.Close()

	outDir := cfg.OutputDir
	if outDir == "" {
		outDir = "."
	}
	name := fmt.Sprintf("received_file_%s.bin", timestamp().UTC().Format("20060102_150405"))
	outPath := filepath.Join(outDir, name)

	chunker, openErr := OpenChunkerForWrite(outPath, cfg.ChunkSize)
	if openErr != nil {
		return "", "", 0, AsTransferError(openErr)
	}
	defer chunker.Close()

	buf := make([]byte, cfg.ChunkSize*2)
	finCount := 0
	var received int64
	lastPacket := time.Now()
	overallDeadline := time.Now().Add(cfg.Timeout)

	for {
		if ctx.Err() != nil {
			return outPath, "", received, New(CodeCancelled, false, "transfer cancelled", nil)
		}
		if time.Now().After(overallDeadline) {
			break
		}
		if finCount >= datagramFinCount && time.Since(lastPacket) > cfg.Timeout {
			break
		}

		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, rerr := conn.ReadFromUDP(buf)
		if rerr != nil {
			if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				continue
			}
			break
		}

		if n == 0 {
			finCount++
			continue
		}
		finCount = 0
		lastPacket = time.Now()

		if _, werr := chunker.WriteSequential(buf[:n]); werr != nil {
			return outPath, "", received, AsTransferError(werr)
		}
		received += int64(n)
		onProgress(received)
	}

	digest, derr := DigestFile(outPath)
	if derr != nil {
		return outPath, "", received, AsTransferError(derr)
	}
	return outPath, digest, received, nil
}
