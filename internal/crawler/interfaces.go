package crawler

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

// ProxyProvisioner supplies one egress identity on demand.
type ProxyProvisioner interface {
	Acquire(ctx context.Context) (ProxyIdentity, error)
}

// SessionBootstrapper opens an authenticated browser session and exports its cookies.
type SessionBootstrapper interface {
	Open(ctx context.Context, proxy *BrowserProxy) (SessionMaterial, error)
	Login(ctx context.Context, method LoginMethod, credential string) (SessionMaterial, error)
	Close(ctx context.Context) error
}

// RemoteClient executes individual remote operations against the platform.
// Item-level failures are reported as ErrFetchFailed or ErrNotFound.
type RemoteClient interface {
	// Ping is a cheap authenticated liveness probe.
	Ping(ctx context.Context) bool
	// UpdateSession rebuilds auth headers from fresh session material.
	UpdateSession(session SessionMaterial)
	SearchNotes(ctx context.Context, keyword string, page int, sort SortOrder) (SearchPage, error)
	NoteDetail(ctx context.Context, noteID string) (Note, error)
	// CreatorInfo returns nil when the profile is empty.
	CreatorInfo(ctx context.Context, userID string) (*Creator, error)
	// CreatorNotes streams the creator's timeline one page at a time, waiting
	// pacing between page requests.
	CreatorNotes(ctx context.Context, userID string, pacing time.Duration) iter.Seq2[[]NoteRef, error]
	// NoteComments streams every comment page of a note, waiting pacing
	// between page requests.
	NoteComments(ctx context.Context, noteID string, pacing time.Duration) iter.Seq2[[]Comment, error]
}

// ClientFactory builds a RemoteClient bound to one session and one API proxy.
type ClientFactory func(session SessionMaterial, proxy *APIProxy) (RemoteClient, error)

// ResultSink durably records crawl results. Every save is idempotent per
// natural key: re-saving the same record overwrites it.
type ResultSink interface {
	SaveNote(ctx context.Context, note Note) error
	SaveCreator(ctx context.Context, userID string, creator Creator) error
	SaveComments(ctx context.Context, noteID string, comments []Comment) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
