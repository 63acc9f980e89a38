package transfer

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// fileSize stats a local path for the sender's total_bytes, classifying
// os errors onto the TransferError taxonomy.
func fileSize(path string) (int64, *TransferError) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, classifyRaw(err)
	}
	return info.Size(), nil
}

// HistorySink is the narrow interface the orchestrator needs from the
// history store, avoiding a direct import cycle between internal/transfer
// and internal/history.
type HistorySink interface {
	Append(Record)
}

// Orchestrator is the lifecycle surface: it owns the Session
// Store, drives engines under the retry policy, forwards progress, emits
// events in FIFO order, and periodically purges terminal sessions via a
// cron-scheduled sweep.
type Orchestrator struct {
	store    *Store
	metrics  *MetricsCollector
	emitter  Emitter
	history  HistorySink
	retryCfg RetryConfig
	log      zerolog.Logger

	cleanupMaxAge    time.Duration
	cleanupKeepCount int

	mu   sync.Mutex
	cron *cron.Cron

	wg sync.WaitGroup
}

// NewOrchestrator wires a Store, MetricsCollector, Emitter and HistorySink
// under a shared RetryConfig. Pass transfer.NoopEmitter{} and a nil
// HistorySink to run headless.
func NewOrchestrator(store *Store, metrics *MetricsCollector, emitter Emitter, history HistorySink, retryCfg RetryConfig, log zerolog.Logger) *Orchestrator {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	return &Orchestrator{
		store:            store,
		metrics:          metrics,
		emitter:          emitter,
		history:          history,
		retryCfg:         retryCfg,
		log:              log,
		cleanupMaxAge:    time.Hour,
		cleanupKeepCount: 100,
	}
}

// StartCleanupSweep schedules the periodic terminal-session purge on a
// cron expression (default "@every 5m" when expr is empty).
func (o *Orchestrator) StartCleanupSweep(expr string) error {
	if expr == "" {
		expr = "@every 5m"
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cron != nil {
		o.cron.Stop()
	}
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		removed := o.store.Purge(o.cleanupMaxAge, o.cleanupKeepCount)
		if removed > 0 {
			o.log.Debug().Int("removed", removed).Msg("cleanup sweep purged terminal sessions")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule cleanup sweep: %w", err)
	}
	c.Start()
	o.cron = c
	return nil
}

// StopCleanupSweep halts the cron scheduler, if running.
func (o *Orchestrator) StopCleanupSweep() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cron != nil {
		o.cron.Stop()
		o.cron = nil
	}
}

// CreateSession registers a new Idle session for the given config.
func (o *Orchestrator) CreateSession(cfg Config) (string, *TransferError) {
	cfg = cfg.WithDefaultChunkSize()
	if verr := cfg.Validate(); verr != nil {
		return "", verr
	}
	return o.store.Create(cfg), nil
}

// StartTransfer starts a sender session in the background: dials the peer,
// runs the selected engine under the retry policy, then performs the single
// completion step (metrics, terminal event, history record).
func (o *Orchestrator) StartTransfer(ctx context.Context, id, filePath string) *TransferError {
	sess, ok := o.store.Get(id)
	if !ok {
		return New(CodeUnknown, false, "session not found", nil).WithContext(id)
	}

	totalBytes, szErr := fileSize(filePath)
	if szErr != nil {
		return szErr
	}

	cfg, cancel, startErr := o.store.Start(id, filePath, sess.Config.PeerAddress, totalBytes)
	if startErr != nil {
		return startErr
	}

	o.emitter.Emit(Event{Kind: EventStarted, SessionID: id, At: time.Now()})
	o.store.MarkTransferring(id)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runSender(ctx, id, cfg, filePath, cancel)
	}()
	return nil
}

// StartReceiver starts a receiver session in the background: binds the
// configured port, runs the selected engine, then performs the completion step.
func (o *Orchestrator) StartReceiver(ctx context.Context, id string) *TransferError {
	if _, ok := o.store.Get(id); !ok {
		return New(CodeUnknown, false, "session not found", nil).WithContext(id)
	}

	cfg, cancel, startErr := o.store.Start(id, "", "", 0)
	if startErr != nil {
		return startErr
	}

	o.emitter.Emit(Event{Kind: EventStarted, SessionID: id, At: time.Now()})
	o.store.MarkTransferring(id)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runReceiver(ctx, id, cfg, cancel)
	}()
	return nil
}

func (o *Orchestrator) runSender(ctx context.Context, id string, cfg Config, filePath string, cancel *cancelFlag) {
	start := time.Now()
	var checksum string
	var sent int64

	totalBytes := int64(0)
	if snap, ok := o.store.Get(id); ok {
		totalBytes = snap.TotalBytes
	}

	onProgress := func(bytes int64) {
		sent = bytes
		elapsed := time.Since(start).Seconds()
		speed := 0.0
		if elapsed > 0 {
			speed = float64(bytes) / elapsed
		}
		o.store.UpdateProgress(id, bytes, speed, eta(bytes, totalBytes, speed))
		o.metrics.RecordProgress(id, bytes, speed)
		o.emitter.Emit(Event{Kind: EventProgress, SessionID: id, At: time.Now(), BytesTransferred: bytes, TotalBytes: totalBytes, SpeedBps: speed})
	}

	terr := Run(ctx, o.retryCfg, o.metrics, id, func(attemptCtx context.Context) *TransferError {
		var runErr *TransferError
		switch cfg.Protocol {
		case ProtocolDatagram:
			checksum, sent, runErr = RunDatagramSender(attemptCtx, cfg, filePath, cancel, onProgress)
		default:
			checksum, sent, runErr = RunStreamSender(attemptCtx, cfg, filePath, cancel, onProgress)
		}
		if runErr != nil {
			o.metrics.RecordError(id)
		}
		return runErr
	})

	o.finish(id, cancel, checksum, sent, terr)
}

func (o *Orchestrator) runReceiver(ctx context.Context, id string, cfg Config, cancel *cancelFlag) {
	start := time.Now()
	var checksum, peer string
	var received, totalBytes int64

	onTotal := func(total int64) {
		totalBytes = total
		o.store.SetTotalBytes(id, total)
	}

	onProgress := func(bytes int64) {
		received = bytes
		elapsed := time.Since(start).Seconds()
		speed := 0.0
		if elapsed > 0 {
			speed = float64(bytes) / elapsed
		}
		o.store.UpdateProgress(id, bytes, speed, eta(bytes, totalBytes, speed))
		o.metrics.RecordProgress(id, bytes, speed)
		o.emitter.Emit(Event{Kind: EventProgress, SessionID: id, At: time.Now(), BytesTransferred: bytes, TotalBytes: totalBytes, SpeedBps: speed})
	}

	terr := Run(ctx, o.retryCfg, o.metrics, id, func(attemptCtx context.Context) *TransferError {
		var runErr *TransferError
		switch cfg.Protocol {
		case ProtocolDatagram:
			_, checksum, received, runErr = RunDatagramReceiver(attemptCtx, cfg, time.Now, cancel, onProgress)
		default:
			_, peer, checksum, received, runErr = RunStreamReceiver(attemptCtx, cfg, cancel, onTotal, onProgress)
		}
		if runErr != nil {
			o.metrics.RecordError(id)
		}
		return runErr
	})

	if peer != "" {
		o.emitter.Emit(Event{Kind: EventConnection, SessionID: id, At: time.Now(), Peer: peer})
	}
	o.finish(id, cancel, checksum, received, terr)
}

// finish performs the single completion step shared by every terminal path:
// record metrics, emit the terminal event, and write a history record.
func (o *Orchestrator) finish(id string, cancel *cancelFlag, checksum string, bytes int64, terr *TransferError) {
	now := time.Now()
	switch {
	case terr != nil && terr.Code == CodeCancelled:
		o.store.CancelToTerminal(id)
		o.emitter.Emit(Event{Kind: EventCancelled, SessionID: id, At: now, Reason: terr.Message})
	case terr != nil:
		o.store.Fail(id, terr)
		o.metrics.RecordError(id)
		o.emitter.Emit(Event{Kind: EventErrored, SessionID: id, At: now, Err: terr})
	default:
		o.store.Complete(id, checksum)
		o.metrics.RecordCompletion(id)
		o.emitter.Emit(Event{Kind: EventCompleted, SessionID: id, At: now, Checksum: checksum, BytesTransferred: bytes})
	}

	snap, ok := o.store.Get(id)
	if !ok {
		return
	}
	if o.history != nil {
		o.history.Append(NewRecord(snap, nil))
	}
	o.metrics.Forget(id)
}

// CancelTransfer requests cancellation of an active session.
func (o *Orchestrator) CancelTransfer(id string) (int64, *TransferError) {
	return o.store.Cancel(id)
}

// GetProgress returns a snapshot of a session's current state.
func (o *Orchestrator) GetProgress(id string) (Session, bool) {
	return o.store.Get(id)
}

// ListActive returns all non-terminal sessions.
func (o *Orchestrator) ListActive() []Session { return o.store.ListActive() }

// ListTerminal returns all terminal sessions still retained in the Store.
func (o *Orchestrator) ListTerminal() []Session { return o.store.ListTerminal() }

// CleanupTerminal runs an immediate purge outside the cron schedule.
func (o *Orchestrator) CleanupTerminal() int {
	return o.store.Purge(o.cleanupMaxAge, o.cleanupKeepCount)
}

// Wait blocks until every background transfer goroutine has returned,
// useful for graceful shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func eta(bytesSoFar, total int64, speedBps float64) float64 {
	if speedBps <= 0 || total <= bytesSoFar {
		return 0
	}
	return float64(total-bytesSoFar) / speedBps
}
