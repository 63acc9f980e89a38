package transfer

import "time"

// LogEntry is one structured network-log line attached to a SessionRecord.
type LogEntry struct {
	At      time.Time `yaml:"at"`
	Message string    `yaml:"message"`
}

// Record is a terminal snapshot of a Session, written to the history store
// at the moment of terminal transition.
type Record struct {
	ID               string     `yaml:"id"`
	Mode             Mode       `yaml:"mode"`
	Protocol         Protocol   `yaml:"protocol"`
	Peer             string     `yaml:"peer"`
	Status           Status     `yaml:"status"`
	BytesTransferred int64      `yaml:"bytes_transferred"`
	TotalBytes       int64      `yaml:"total_bytes"`
	StartedAt        time.Time  `yaml:"started_at"`
	EndedAt          time.Time  `yaml:"ended_at"`
	Checksum         string     `yaml:"checksum,omitempty"`
	ErrorCode        string     `yaml:"error_code,omitempty"`
	ErrorMessage     string     `yaml:"error_message,omitempty"`
	Log              []LogEntry `yaml:"log,omitempty"`
}

// Duration returns the terminal session's wall-clock runtime.
func (r Record) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// NewRecord builds a Record from a terminal Session snapshot.
func NewRecord(s Session, log []LogEntry) Record {
	r := Record{
		ID:               s.ID,
		Mode:             s.Config.Mode,
		Protocol:         s.Config.Protocol,
		Peer:             s.Peer,
		Status:           s.Status,
		BytesTransferred: s.BytesTransferred,
		TotalBytes:       s.TotalBytes,
		Checksum:         s.Checksum,
		Log:              log,
	}
	if s.StartedAt != nil {
		r.StartedAt = *s.StartedAt
	}
	if s.EndedAt != nil {
		r.EndedAt = *s.EndedAt
	}
	if s.Err != nil {
		r.ErrorCode = string(s.Err.Code)
		r.ErrorMessage = s.Err.Message
	}
	return r
}
