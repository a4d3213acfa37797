package store

// ReviewEventType names a review change.
type ReviewEventType string

// Review change types.
const (
	ReviewCreated ReviewEventType = "review.created"
	ReviewUpdated ReviewEventType = "review.updated"
	ReviewDeleted ReviewEventType = "review.deleted"
)

// ReviewEvent is emitted after a review change has been committed.
type ReviewEvent struct {
	Type     ReviewEventType `json:"type"`
	BookID   string          `json:"book_id"`
	ReviewID string          `json:"review_id"`
	UserID   string          `json:"user_id"`
}

// EventEmitter receives committed review changes. Emit must not block.
type EventEmitter interface {
	Emit(event ReviewEvent)
}

// NoopEmitter is a no-op implementation of EventEmitter for testing.
type NoopEmitter struct{}

func (NoopEmitter) Emit(ReviewEvent) {}

// NewNoopEmitter creates a new no-op emitter for testing.
func NewNoopEmitter() EventEmitter { return NoopEmitter{} }

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ReviewEvent)

// Emit calls f(event).
func (f EmitterFunc) Emit(event ReviewEvent) { f(event) }
