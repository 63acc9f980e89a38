package transfer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeHistorySink struct {
	records []Record
}

func (f *fakeHistorySink) Append(r Record) { f.records = append(f.records, r) }

func TestOrchestratorSendReceiveEndToEnd(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "payload.bin")
	payload := []byte("orchestrated transfer payload")
	if err := os.WriteFile(srcPath, payload, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	ln, _ := net.Listen("tcp", ":0")
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	recvStore := NewStore()
	recvHist := &fakeHistorySink{}
	recvOrch := NewOrchestrator(recvStore, NewMetricsCollector(), NoopEmitter{}, recvHist, DefaultRetryConfig(), zerolog.Nop())

	recvCfg := Config{Mode: ModeReceiver, Protocol: ProtocolStream, BindPort: port, OutputDir: dir, Timeout: 5 * time.Second}
	recvID, err := recvOrch.CreateSession(recvCfg)
	if err != nil {
		t.Fatalf("CreateSession(receiver): %v", err)
	}

	ctx := context.Background()
	if err := recvOrch.StartReceiver(ctx, recvID); err != nil {
		t.Fatalf("StartReceiver: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	sendStore := NewStore()
	sendHist := &fakeHistorySink{}
	sendOrch := NewOrchestrator(sendStore, NewMetricsCollector(), NoopEmitter{}, sendHist, DefaultRetryConfig(), zerolog.Nop())

	sendCfg := Config{Mode: ModeSender, Protocol: ProtocolStream, PeerAddress: net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), Timeout: 5 * time.Second}
	sendID, err := sendOrch.CreateSession(sendCfg)
	if err != nil {
		t.Fatalf("CreateSession(sender): %v", err)
	}
	if err := sendOrch.StartTransfer(ctx, sendID, srcPath); err != nil {
		t.Fatalf("StartTransfer: %v", err)
	}

	sendOrch.Wait()
	recvOrch.Wait()

	sendSnap, _ := sendOrch.GetProgress(sendID)
	if sendSnap.Status != StatusCompleted {
		t.Fatalf("sender status = %s, want completed (err=%v)", sendSnap.Status, sendSnap.Err)
	}

	recvSnap, _ := recvOrch.GetProgress(recvID)
	if recvSnap.Status != StatusCompleted {
		t.Fatalf("receiver status = %s, want completed (err=%v)", recvSnap.Status, recvSnap.Err)
	}

	want := int64(len(payload))
	if recvSnap.TotalBytes != want || recvSnap.BytesTransferred != want {
		t.Errorf("receiver bytes = %d/%d, want %d/%d", recvSnap.BytesTransferred, recvSnap.TotalBytes, want, want)
	}

	if len(sendHist.records) != 1 {
		t.Fatalf("sender history records = %d, want 1", len(sendHist.records))
	}
	if len(recvHist.records) != 1 {
		t.Fatalf("receiver history records = %d, want 1", len(recvHist.records))
	}
	if recvHist.records[0].TotalBytes != want || recvHist.records[0].BytesTransferred != want {
		t.Errorf("receiver history record bytes = %d/%d, want %d/%d",
			recvHist.records[0].BytesTransferred, recvHist.records[0].TotalBytes, want, want)
	}
	if sendHist.records[0].Checksum != recvHist.records[0].Checksum {
		t.Errorf("checksum mismatch between sender/receiver history records")
	}
}

func TestOrchestratorCancelTransfer(t *testing.T) {
	store := NewStore()
	orch := NewOrchestrator(store, NewMetricsCollector(), NoopEmitter{}, nil, DefaultRetryConfig(), zerolog.Nop())

	cfg := Config{Mode: ModeSender, Protocol: ProtocolStream, PeerAddress: "127.0.0.1:1", Timeout: time.Second}
	id, err := orch.CreateSession(cfg)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if _, err := orch.CancelTransfer(id); err == nil {
		t.Fatal("expected error cancelling an Idle session before it starts")
	}
}

func TestOrchestratorCleanupTerminalPurges(t *testing.T) {
	store := NewStore()
	orch := NewOrchestrator(store, NewMetricsCollector(), NoopEmitter{}, nil, DefaultRetryConfig(), zerolog.Nop())
	orch.cleanupMaxAge = -time.Second // force everything terminal to count as old

	cfg := Config{Mode: ModeSender, Protocol: ProtocolStream, PeerAddress: "127.0.0.1:1", Timeout: time.Second}
	id, _ := orch.CreateSession(cfg)
	store.Start(id, "/tmp/x", "peer", 10)
	store.Complete(id, "x")

	removed := orch.CleanupTerminal()
	if removed != 1 {
		t.Errorf("CleanupTerminal() removed %d, want 1", removed)
	}
}
