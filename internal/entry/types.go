package entry

import (
	"strings"
	"time"

	"github.com/nerrad567/remoterelay-bridge/internal/bridges/remoterelay"
)

// maxTitleLength bounds entry titles.
const maxTitleLength = 100

// Entry is one configured device.
type Entry struct {
	ID        string                      `json:"id"`
	Title     string                      `json:"title"`
	Config    remoterelay.PersistedConfig `json:"config"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// DeviceID returns the bound device id.
func (e *Entry) DeviceID() string {
	return e.Config.DeviceID
}

// Stored converts the entry for loading into the runtime manager.
func (e *Entry) Stored() remoterelay.StoredEntry {
	return remoterelay.StoredEntry{ID: e.ID, Title: e.Title, Config: e.Config.Clone()}
}

// Redacted returns a copy safe for API output.
func (e Entry) Redacted() Entry {
	e.Config = e.Config.Redacted()
	return e
}

// Validate checks the fields required before an entry is stored.
func (e *Entry) Validate() error {
	title := strings.TrimSpace(e.Title)
	switch {
	case title == "":
		return invalid("title is required")
	case len(title) > maxTitleLength:
		return invalid("title is too long")
	case strings.TrimSpace(e.Config.DeviceID) == "":
		return invalid("device id is required")
	case strings.TrimSpace(e.Config.BaseURL) == "":
		return invalid("api base url is required")
	}
	return nil
}

// CommandRecord is one logged command burst.
type CommandRecord struct {
	ID      int64     `json:"id"`
	EntryID string    `json:"entry_id"`
	Command string    `json:"command"`
	Repeats int       `json:"repeats"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}
