package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/jrsteele09/transcript-summary/internal/errors"
	"github.com/jrsteele09/transcript-summary/sessions"
)

// Callers use these to tell "refresh and retry" (401) apart from "the user lacks consent" (403).
var (
	ErrUnauthorized = apperrors.ErrUnauthorized
	ErrForbidden    = apperrors.ErrForbidden
	ErrNotFound     = apperrors.ErrNotFound
)

const maxErrorBody = 4 << 10

// APIError is a Graph error response other than 401, 403 and 404.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph API error %d %s: %s", e.Status, e.Code, e.Message)
}

// Client calls Microsoft Graph with a delegated access token supplied per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

type Profile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Email prefers the mailbox address and falls back to the sign-in name.
func (p Profile) Email() string {
	if p.Mail != "" {
		return p.Mail
	}
	return p.UserPrincipalName
}

type Meeting struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	Start        time.Time `json:"startDateTime"`
	End          time.Time `json:"endDateTime"`
	Participants []string  `json:"participants"`
}

type onlineMeeting struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	StartDateTime time.Time `json:"startDateTime"`
	EndDateTime   time.Time `json:"endDateTime"`
	Participants  struct {
		Attendees []struct {
			Upn string `json:"upn"`
		} `json:"attendees"`
	} `json:"participants"`
}

func (m onlineMeeting) toMeeting() Meeting {
	out := Meeting{ID: m.ID, Subject: m.Subject, Start: m.StartDateTime, End: m.EndDateTime}
	if out.Subject == "" {
		out.Subject = "No subject"
	}
	for _, a := range m.Participants.Attendees {
		if a.Upn != "" {
			out.Participants = append(out.Participants, a.Upn)
		}
	}
	return out
}

func (c *Client) Profile(ctx context.Context, accessToken string) (Profile, error) {
	var p Profile
	err := c.do(ctx, accessToken, http.MethodGet, "/me", nil, &p)
	return p, err
}

func (c *Client) ListMeetings(ctx context.Context, accessToken string) ([]Meeting, error) {
	var resp struct {
		Value []onlineMeeting `json:"value"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, "/me/onlineMeetings?$top=50", nil, &resp); err != nil {
		return nil, err
	}
	meetings := make([]Meeting, 0, len(resp.Value))
	for _, m := range resp.Value {
		meetings = append(meetings, m.toMeeting())
	}
	return meetings, nil
}

func (c *Client) Meeting(ctx context.Context, accessToken, meetingID string) (Meeting, error) {
	var m onlineMeeting
	if err := c.do(ctx, accessToken, http.MethodGet, "/me/onlineMeetings/"+url.PathEscape(meetingID), nil, &m); err != nil {
		return Meeting{}, err
	}
	return m.toMeeting(), nil
}

// Transcript returns the text of the meeting's first transcript, or ErrNotFound when there is none.
func (c *Client) Transcript(ctx context.Context, accessToken, meetingID string) (string, error) {
	base := "/me/onlineMeetings/" + url.PathEscape(meetingID) + "/transcripts"
	var list struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := c.do(ctx, accessToken, http.MethodGet, base, nil, &list); err != nil {
		return "", err
	}
	if len(list.Value) == 0 {
		return "", fmt.Errorf("%w: no transcript for meeting", ErrNotFound)
	}

	var content bytes.Buffer
	path := base + "/" + url.PathEscape(list.Value[0].ID) + "/content?$format=text/vtt"
	if err := c.do(ctx, accessToken, http.MethodGet, path, nil, &content); err != nil {
		return "", err
	}
	return content.String(), nil
}

// SendChatMessage creates a group chat with the given members and posts an HTML message to it.
func (c *Client) SendChatMessage(ctx context.Context, accessToken, topic string, members []string, html string) (string, error) {
	chatMembers := make([]map[string]any, 0, len(members))
	for _, m := range members {
		chatMembers = append(chatMembers, map[string]any{
			"@odata.type":     "#microsoft.graph.aadUserConversationMember",
			"roles":           []string{"owner"},
			"user@odata.bind": c.baseURL + "/users('" + url.PathEscape(m) + "')",
		})
	}
	var chat struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, accessToken, http.MethodPost, "/chats", map[string]any{
		"chatType": "group",
		"topic":    topic,
		"members":  chatMembers,
	}, &chat)
	if err != nil {
		return "", err
	}

	err = c.do(ctx, accessToken, http.MethodPost, "/chats/"+url.PathEscape(chat.ID)+"/messages", map[string]any{
		"body": map[string]string{"contentType": "html", "content": html},
	}, nil)
	if err != nil {
		return "", err
	}
	return chat.ID, nil
}

// do sends one request. out may be nil, a *bytes.Buffer for raw content, or a JSON target.
func (c *Client) do(ctx context.Context, accessToken, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrapf(err, "graph %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(method, path, resp)
	}

	switch out := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err = io.Copy(out, resp.Body)
		return err
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrapf(err, "graph %s %s: decode response", method, path)
		}
		return nil
	}
}

func (c *Client) statusError(method, path string, resp *http.Response) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = json.Unmarshal(raw, &env)

	log.Error().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("code", env.Error.Code).
		Msg("Graph API error")

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, env.Error.Code)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, env.Error.Code)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, env.Error.Code)
	}
	return &APIError{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
}

// Identity reads the signed-in user's display name and email for the session.
func (c *Client) Identity(ctx context.Context, accessToken string) (sessions.Identity, error) {
	p, err := c.Profile(ctx, accessToken)
	if err != nil {
		return sessions.Identity{}, err
	}
	return sessions.Identity{DisplayName: p.DisplayName, Email: p.Email()}, nil
}
