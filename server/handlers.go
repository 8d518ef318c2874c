package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/jrsteele09/transcript-summary/graph"
	"github.com/jrsteele09/transcript-summary/returnctx"
)

const (
	noTranscriptMessage = "No transcript available for this meeting."
	maxSendSummaryBody  = 64 << 10
)

// IndexHandler reports what the service is
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"app":    s.appName,
			"login":  RouteAuthLogin,
			"status": RouteAuthStatus,
		})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	}
}

type meetingResponse struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Participants []string  `json:"participants"`
}

func toMeetingResponse(m graph.Meeting) meetingResponse {
	participants := m.Participants
	if participants == nil {
		participants = []string{}
	}
	return meetingResponse{ID: m.ID, Subject: m.Subject, Start: m.Start, End: m.End, Participants: participants}
}

// MeetingsHandler lists the signed-in user's online meetings.
func (s *Server) MeetingsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		meetings, err := s.graph.ListMeetings(r.Context(), accessToken(r))
		if err != nil {
			s.resourceError(w, r, err, returnctx.ListMeetings{})
			return
		}
		out := make([]meetingResponse, 0, len(meetings))
		for _, m := range meetings {
			out = append(out, toMeetingResponse(m))
		}
		writeJSON(w, http.StatusOK, map[string]any{"meetings": out})
	}
}

type summaryResponse struct {
	Meeting       meetingResponse `json:"meeting"`
	Summary       string          `json:"summary,omitempty"`
	Message       string          `json:"message,omitempty"`
	PostRequested bool            `json:"post_requested"`
}

// SummaryHandler is where ViewSummary and PostToChat resume. The meeting and transcript are
// always fetched again with the current token.
func (s *Server) SummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := summaryAction(r)
		if action == nil {
			writeJSONError(w, "invalid_request", "A valid meeting id is required.", http.StatusBadRequest)
			return
		}
		meetingID := action.ResourceID()
		token := accessToken(r)

		meeting, err := s.graph.Meeting(r.Context(), token, meetingID)
		if err != nil {
			s.resourceError(w, r, err, action)
			return
		}
		resp := summaryResponse{
			Meeting:       toMeetingResponse(meeting),
			PostRequested: action.Kind() == returnctx.KindPostToChat,
		}

		transcript, err := s.graph.Transcript(r.Context(), token, meetingID)
		switch {
		case errors.Is(err, graph.ErrNotFound):
			resp.Message = noTranscriptMessage
			writeJSON(w, http.StatusOK, resp)
			return
		case err != nil:
			s.resourceError(w, r, err, action)
			return
		}

		resp.Summary, err = s.summarizer.Summarize(r.Context(), meeting, transcript)
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("meeting", meetingID).Msg("summarisation failed")
			writeJSONError(w, "summary_failed", "The summary could not be produced.", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type sendSummaryRequest struct {
	MeetingID    string   `json:"meeting_id"`
	Summary      string   `json:"summary"`
	Participants []string `json:"participants"`
}

// SendSummaryHandler creates a chat with the meeting participants and posts the summary to it.
func (s *Server) SendSummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendSummaryRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSendSummaryBody)).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "The request body must be JSON.", http.StatusBadRequest)
			return
		}
		req.Summary = strings.TrimSpace(req.Summary)
		if req.MeetingID == "" || req.Summary == "" {
			writeJSONError(w, "invalid_request", "meeting_id and summary are required.", http.StatusBadRequest)
			return
		}
		action, err := returnctx.NewAction(string(returnctx.KindPostToChat), req.MeetingID)
		if err != nil {
			writeJSONError(w, "invalid_request", "The meeting id is not valid.", http.StatusBadRequest)
			return
		}

		token := accessToken(r)
		meeting, err := s.graph.Meeting(r.Context(), token, req.MeetingID)
		if err != nil {
			s.resourceError(w, r, err, action)
			return
		}
		members := req.Participants
		if len(members) == 0 {
			members = meeting.Participants
		}
		if len(members) == 0 {
			writeJSONError(w, "invalid_request", "The meeting has no participants to send to.", http.StatusBadRequest)
			return
		}

		topic := fmt.Sprintf("Summary: %s", meeting.Subject)
		chatID, err := s.graph.SendChatMessage(r.Context(), token, topic, members, summaryHTML(meeting, req.Summary))
		if err != nil {
			s.resourceError(w, r, err, action)
			return
		}

		hlog.FromRequest(r).Info().Str("meeting", req.MeetingID).Int("members", len(members)).Msg("summary posted")
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "sent",
			"chat_id": chatID,
		})
	}
}

func summaryHTML(meeting graph.Meeting, summary string) string {
	var b strings.Builder
	b.WriteString("<h3>")
	b.WriteString(html.EscapeString(meeting.Subject))
	b.WriteString("</h3><p>")
	b.WriteString(strings.ReplaceAll(html.EscapeString(summary), "\n", "<br>"))
	b.WriteString("</p>")
	return b.String()
}
