package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies the milestone an Event reports.
type Stage string

// Stages emitted by the crawl engine.
const (
	StageRunStart         Stage = "RUN_START"
	StageRunDone          Stage = "RUN_DONE"
	StageRunError         Stage = "RUN_ERROR"
	StagePageDone         Stage = "PAGE_DONE"
	StageKeywordAbandoned Stage = "KEYWORD_ABANDONED"
	StageNotesSaved       Stage = "NOTES_SAVED"
	StageCommentsSaved    Stage = "COMMENTS_SAVED"
	StageCreatorSaved     Stage = "CREATOR_SAVED"
)

// Event is one progress record of a crawl run.
type Event struct {
	RunID uuid.UUID
	TS    time.Time
	Stage Stage
	// Mode is the crawl mode of the run (search, detail, creator).
	Mode string
	// Keyword and Page describe the search cursor for page events.
	Keyword string
	Page    int
	// ItemID scopes the event to one note or creator.
	ItemID string
	// Count is the number of records the event accounts for.
	Count int
	Dur   time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate rejects events that sinks cannot attribute.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone, StageKeywordAbandoned:
		if e.Keyword == "" {
			return fmt.Errorf("%s requires keyword", e.Stage)
		}
	case StageNotesSaved, StageCommentsSaved, StageCreatorSaved:
		if e.Count < 0 {
			return errors.New("count must be >= 0")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a run.
func (e Event) Terminal() bool {
	return e.Stage == StageRunDone || e.Stage == StageRunError
}
