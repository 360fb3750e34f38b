// Package generation implements the live project generation engine: a
// per-project single-flight task that emits ordered events at an authored
// learning pace.
package generation

import "time"

// EventType discriminates generation events on the wire.
type EventType string

const (
	EventStarted         EventType = "started"
	EventStep            EventType = "step"
	EventAlreadyRunning  EventType = "already_running"
	EventAlreadyComplete EventType = "already_complete"
	EventFileAnnounced   EventType = "file_announced"
	EventCodeSection     EventType = "code_section"
	EventCodeExplanation EventType = "code_explanation"
	EventCodeWritten     EventType = "code_written"
	EventFileCreated     EventType = "file_created"
	EventProgress        EventType = "progress"
	EventFinished        EventType = "finished"
	EventError           EventType = "error"
	EventStopped         EventType = "stopped"
)

// Event is one generation event. Fields are sparse; which are set depends on
// Type. Events for one project are totally ordered.
type Event struct {
	Type      EventType `json:"event"`
	ProjectID string    `json:"project_id"`
	Timestamp time.Time `json:"timestamp"`

	Path        string `json:"path,omitempty"`
	Language    string `json:"language,omitempty"`
	Step        int    `json:"step,omitempty"`
	Section     string `json:"section,omitempty"`
	Content     string `json:"content,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Message     string `json:"message,omitempty"`

	Line       int     `json:"line,omitempty"`
	TotalLines int     `json:"total_lines,omitempty"`
	Progress   float64 `json:"progress,omitempty"`

	Current    int    `json:"current,omitempty"`
	Total      int    `json:"total,omitempty"`
	File       string `json:"file,omitempty"`
	TotalFiles int    `json:"total_files,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Agent      string `json:"agent,omitempty"`
}

// terminal reports whether the event closes a project's sequence.
func (e Event) terminal() bool {
	switch e.Type {
	case EventFinished, EventError, EventStopped:
		return true
	}
	return false
}
