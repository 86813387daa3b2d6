package domain

import "time"

const (
	ActivityThread  = "thread"
	ActivityComment = "comment"
)

// ActivityItem es una fila del feed global de actividad.
type ActivityItem struct {
	Kind          string    `json:"kind"`
	ID            int64     `json:"id"`
	ThreadID      int64     `json:"thread_id"`
	CommunityID   string    `json:"community_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body,omitempty"`
	AuthorAddress string    `json:"author_address"`
	AuthorName    string    `json:"author_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
