package session

// EventKind identifies a progress event published during a session.
type EventKind int

const (
	// EventPageExtracted fires after a page clears extraction.
	EventPageExtracted EventKind = iota
	// EventPageFailed fires when a page is recorded as failed.
	EventPageFailed
	// EventPageMerged fires after a page's entities are merged.
	EventPageMerged
	// EventSessionDone fires once per session, after all work finishes.
	EventSessionDone
)

func (k EventKind) String() string {
	switch k {
	case EventPageExtracted:
		return "page_extracted"
	case EventPageFailed:
		return "page_failed"
	case EventPageMerged:
		return "page_merged"
	case EventSessionDone:
		return "session_done"
	default:
		return "unknown"
	}
}

// Event is a progress notification. Sessions publish on the channel given at
// construction; a nil channel or a full buffer drops the event rather than
// blocking the pipeline.
type Event struct {
	Kind       EventKind
	SessionID  string
	Competitor string
	URL        string
	Created    int
	Updated    int
	Skipped    int
	Err        string
}
