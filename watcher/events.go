package watcher

// EventType discriminates the events a GitWatcher emits.
type EventType int

const (
	EventScanStart EventType = iota
	EventScanEnd
	EventFileChanged
	EventFileDeleted
	EventBranchChanged
)

// Event is the single message type emitted by a GitWatcher. Every event
// carries the branch it was observed on and whether that branch is the
// repository's base branch. The Watcher field identifies the emitting
// watcher so consumers handling several roots can route the event; it is an
// identity key, never ownership.
type Event struct {
	Type         EventType
	Branch       string
	IsBaseBranch bool
	Watcher      *GitWatcher

	// FileChanged and FileDeleted
	FilePath string
	// FileChanged only: the blob hash of the file's content in the index.
	FileHash string

	// BranchChanged only
	PreviousBranch string
	NewBranch      string
}

// EventHandler receives events synchronously, in registration order.
type EventHandler func(Event)

func (e EventType) String() string {
	switch e {
	case EventScanStart:
		return "SCAN_START"
	case EventScanEnd:
		return "SCAN_END"
	case EventFileChanged:
		return "FILE_CHANGED"
	case EventFileDeleted:
		return "FILE_DELETED"
	case EventBranchChanged:
		return "BRANCH_CHANGED"
	default:
		return "UNKNOWN"
	}
}
