package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/commitcast/internal/application"
	"github.com/ericfisherdev/commitcast/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Time   string `json:"time"`
}

// TargetResponse is the JSON representation of one watched branch and its
// most recent poll.
type TargetResponse struct {
	Slug         string `json:"slug"`
	Owner        string `json:"owner"`
	Name         string `json:"name"`
	Branch       string `json:"branch"`
	ChannelID    string `json:"channel_id"`
	Watermark    string `json:"watermark"`
	LastOutcome  string `json:"last_outcome"`
	LastError    string `json:"last_error,omitempty"`
	Announced    int    `json:"announced"`
	LastPolledAt string `json:"last_polled_at,omitempty"`
}

// AnnouncementResponse is the JSON representation of one announced commit.
type AnnouncementResponse struct {
	ID          int64  `json:"id"`
	Slug        string `json:"slug"`
	ChannelID   string `json:"channel_id"`
	SHA         string `json:"sha"`
	Message     string `json:"message"`
	Author      string `json:"author"`
	URL         string `json:"url"`
	AnnouncedAt string `json:"announced_at"`
}

// PollResponse summarises a manually triggered poll cycle.
type PollResponse struct {
	CycleID    string `json:"cycle_id"`
	Targets    int    `json:"targets"`
	Announced  int    `json:"announced"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
}

// toTargetResponse merges a configured target with its last poll status.
func toTargetResponse(target model.RepositoryTarget, status model.TargetStatus) TargetResponse {
	resp := TargetResponse{
		Slug:        status.Slug,
		Owner:       target.Owner,
		Name:        target.Name,
		Branch:      target.Branch,
		ChannelID:   status.ChannelID,
		Watermark:   status.Watermark,
		LastOutcome: string(status.Outcome),
		LastError:   status.LastError,
		Announced:   status.Announced,
	}
	if !status.LastPolledAt.IsZero() {
		resp.LastPolledAt = status.LastPolledAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toAnnouncementResponse converts a domain Announcement to its JSON representation.
func toAnnouncementResponse(a model.Announcement) AnnouncementResponse {
	return AnnouncementResponse{
		ID:          a.ID,
		Slug:        a.Slug,
		ChannelID:   a.ChannelID,
		SHA:         a.SHA,
		Message:     a.Message,
		Author:      a.Author,
		URL:         a.URL,
		AnnouncedAt: a.AnnouncedAt.UTC().Format(time.RFC3339),
	}
}

func toPollResponse(r application.CycleResult) PollResponse {
	return PollResponse{
		CycleID:    r.CycleID,
		Targets:    r.Targets,
		Announced:  r.Announced,
		Failed:     r.Failed,
		DurationMS: r.Duration.Milliseconds(),
	}
}
