package transfer

import (
	"net"
	"time"
)

// CommunicationManager is the protocol-agnostic façade:
// validates a Config before attempting I/O and exposes availability checks,
// independent of any particular engine.
type CommunicationManager struct{}

func NewCommunicationManager() *CommunicationManager { return &CommunicationManager{} }

// ValidateForSend checks a sender Config before any I/O is attempted.
func (CommunicationManager) ValidateForSend(cfg Config) *TransferError {
	cfg = cfg.WithDefaultChunkSize()
	if cfg.Mode != ModeSender {
		return New(CodeConfigError, false, "config mode must be sender", nil)
	}
	return cfg.Validate()
}

// ValidateForReceive checks a receiver Config before any I/O is attempted.
func (CommunicationManager) ValidateForReceive(cfg Config) *TransferError {
	cfg = cfg.WithDefaultChunkSize()
	if cfg.Mode != ModeReceiver {
		return New(CodeConfigError, false, "config mode must be receiver", nil)
	}
	return cfg.Validate()
}

// CheckReceiverAvailable probes whether a receiver is reachable. For TCP it
// attempts a short connect; for UDP it always reports true, since UDP has no
// connection state to probe.
func CheckReceiverAvailable(protocol Protocol, addr string, timeout time.Duration) bool {
	if protocol == ProtocolDatagram {
		return true
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
