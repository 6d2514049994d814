package protocol

import "time"

const (
	SubjectControlSubmit  = "reader.control.submit"
	SubjectControlStop    = "reader.control.stop"
	SubjectControlSkip    = "reader.control.skip"
	SubjectControlPause   = "reader.control.pause"
	SubjectControlStatus  = "reader.control.status"
	SubjectControlHistory = "reader.control.history"

	SubjectEventPrefix  = "reader.event"
	SubjectStatusPrefix = "reader.status"

	// StreamEvents retains lifecycle events when JetStream is available.
	StreamEvents = "READER_EVENTS"
)

// EventSubject returns the subject a lifecycle event of type t is published on.
func EventSubject(t string) string {
	return SubjectEventPrefix + "." + t
}

// StatusSubject returns the heartbeat subject of a node.
func StatusSubject(nodeID string) string {
	return SubjectStatusPrefix + "." + nodeID
}

// SubmitRequest asks the reader to speak text.
type SubmitRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// ControlReply acknowledges a control request.
type ControlReply struct {
	OK      bool   `json:"ok"`
	ID      string `json:"id,omitempty"`
	Paused  bool   `json:"paused"`
	Dropped int    `json:"dropped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PlaybackStatus mirrors the sink counters.
type PlaybackStatus struct {
	Format          string  `json:"format,omitempty"`
	SegmentsPlayed  int64   `json:"segments_played"`
	SegmentsDropped int64   `json:"segments_dropped"`
	SilenceSeconds  float64 `json:"silence_seconds"`
	Reopens         int64   `json:"reopens"`
	Pending         int     `json:"pending"`
}

// Counters are totals since start.
type Counters struct {
	Submitted   uint64 `json:"submitted"`
	Completed   uint64 `json:"completed"`
	Aborted     uint64 `json:"aborted"`
	Rejected    uint64 `json:"rejected"`
	Dropped     uint64 `json:"dropped"`
	Archived    uint64 `json:"archived"`
	LinesOK     uint64 `json:"lines_ok"`
	LinesFailed uint64 `json:"lines_failed"`
}

// StatusReport answers reader.control.status and is the heartbeat body.
type StatusReport struct {
	NodeID      string         `json:"node_id"`
	InstanceID  string         `json:"instance_id"`
	StartedAt   time.Time      `json:"started_at"`
	QueueDepth  int            `json:"queue_depth"`
	CurrentID   string         `json:"current_id,omitempty"`
	CurrentLine int            `json:"current_line,omitempty"`
	TotalLines  int            `json:"total_lines,omitempty"`
	Paused      bool           `json:"paused"`
	Playback    PlaybackStatus `json:"playback"`
	Counters    Counters       `json:"counters"`
	Timestamp   time.Time      `json:"timestamp"`
}

// UtteranceEvent is published on reader.event.<type>.
type UtteranceEvent struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id"`
	Seq       uint64    `json:"seq"`
	Source    string    `json:"source,omitempty"`
	Line      int       `json:"line,omitempty"`
	Lines     int       `json:"lines,omitempty"`
	Text      string    `json:"text,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Duration  float64   `json:"duration_seconds,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryRequest asks for the most recent journaled utterances.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

type UtteranceSummary struct {
	RequestID   string    `json:"request_id"`
	Seq         uint64    `json:"seq"`
	Source      string    `json:"source"`
	Status      string    `json:"status"`
	Lines       int       `json:"lines"`
	Text        string    `json:"text"`
	ArchivePath string    `json:"archive_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type HistoryReply struct {
	Utterances []UtteranceSummary `json:"utterances"`
	Error      string             `json:"error,omitempty"`
}
