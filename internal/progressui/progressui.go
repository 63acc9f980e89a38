// Package progressui renders TransferEvents to the console with a live
// progress bar per session.
package progressui

import (
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"relaydrop/internal/transfer"
)

// Console is a transfer.Emitter that renders one progress bar per active
// session and prints terminal-state lines, satisfying the core's Emitter
// interface without the core importing this package.
type Console struct {
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

// NewConsole creates a Console emitter.
func NewConsole() *Console {
	return &Console{bars: make(map[string]*progressbar.ProgressBar)}
}

func (c *Console) Emit(e transfer.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Kind {
	case transfer.EventStarted:
		c.bars[e.SessionID] = progressbar.NewOptions64(
			-1,
			progressbar.OptionSetDescription(shortID(e.SessionID)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(15),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)

	case transfer.EventConnection:
		if _, ok := c.bars[e.SessionID]; ok {
			fmt.Printf("\n%s connected to %s\n", shortID(e.SessionID), e.Peer)
		}

	case transfer.EventProgress:
		if bar, ok := c.bars[e.SessionID]; ok {
			if bar.GetMax64() < e.TotalBytes {
				bar.ChangeMax64(e.TotalBytes)
			}
			_ = bar.Set64(e.BytesTransferred)
		}

	case transfer.EventCompleted:
		if bar, ok := c.bars[e.SessionID]; ok {
			_ = bar.Finish()
			delete(c.bars, e.SessionID)
		}
		fmt.Printf("\n%s completed, checksum %s\n", shortID(e.SessionID), e.Checksum)

	case transfer.EventCancelled:
		if bar, ok := c.bars[e.SessionID]; ok {
			_ = bar.Clear()
			delete(c.bars, e.SessionID)
		}
		fmt.Printf("\n%s cancelled: %s\n", shortID(e.SessionID), e.Reason)

	case transfer.EventErrored:
		if bar, ok := c.bars[e.SessionID]; ok {
			_ = bar.Clear()
			delete(c.bars, e.SessionID)
		}
		if e.Err != nil {
			fmt.Printf("\n%s failed: %s\n", shortID(e.SessionID), e.Err.Error())
		}
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
