package returnctx

import (
	"errors"
	"fmt"
	"net/url"
	"unicode"
	"unicode/utf8"

	"github.com/jrsteele09/transcript-summary/sessions"
)

// Kind names a resumable action. The set is closed: NewAction rejects anything else.
type Kind string

const (
	KindViewSummary  Kind = "view_summary"
	KindPostToChat   Kind = "post_to_chat"
	KindListMeetings Kind = "list_meetings"
)

// Paths the resumed actions land on.
const (
	SummaryPath  = "/summary"
	MeetingsPath = "/meetings"
	DefaultPath  = "/"
)

const (
	maxResourceIDLength = 256
	maxUserHintLength   = 320
)

var ErrInvalidAction = errors.New("invalid pending action")

// Action is what the user was trying to do before being sent to sign in.
type Action interface {
	Kind() Kind
	ResourceID() string
	// ResumePath is the local path that continues the action after sign-in.
	ResumePath() string

	isAction()
}

type ViewSummary struct{ MeetingID string }

func (ViewSummary) Kind() Kind { return KindViewSummary }
func (a ViewSummary) ResourceID() string { return a.MeetingID }
func (a ViewSummary) ResumePath() string { return SummaryPath + "?" + url.Values{"id": {a.MeetingID}}.Encode() }
func (ViewSummary) isAction() {}

type PostToChat struct{ MeetingID string }

func (PostToChat) Kind() Kind { return KindPostToChat }
func (a PostToChat) ResourceID() string { return a.MeetingID }
func (a PostToChat) ResumePath() string {
	return SummaryPath + "?" + url.Values{"id": {a.MeetingID}, "post": {"1"}}.Encode()
}
func (PostToChat) isAction() {}

type ListMeetings struct{}

func (ListMeetings) Kind() Kind { return KindListMeetings }
func (ListMeetings) ResourceID() string { return "" }
func (ListMeetings) ResumePath() string { return MeetingsPath }
func (ListMeetings) isAction() {}

// NewAction validates untrusted input and builds the matching Action. An empty kind means
// there is nothing to resume and returns a nil Action.
func NewAction(kind, resourceID string) (Action, error) {
	if kind == "" {
		return nil, nil
	}
	switch Kind(kind) {
	case KindViewSummary, KindPostToChat:
		if err := validateText("resource id", resourceID, maxResourceIDLength); err != nil {
			return nil, err
		}
		if resourceID == "" {
			return nil, fmt.Errorf("%w: %s requires a resource id", ErrInvalidAction, kind)
		}
		if Kind(kind) == KindViewSummary {
			return ViewSummary{MeetingID: resourceID}, nil
		}
		return PostToChat{MeetingID: resourceID}, nil
	case KindListMeetings:
		return ListMeetings{}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, kind)
}

// ValidateUserHint checks a login hint before it is stored or forwarded to the provider.
func ValidateUserHint(hint string) error {
	return validateText("user hint", hint, maxUserHintLength)
}

func validateText(field, s string, limit int) error {
	if len(s) > limit {
		return fmt.Errorf("%w: %s too long", ErrInvalidAction, field)
	}
	if !utf8.ValidString(s) {
		return fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidAction, field)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %s contains control characters", ErrInvalidAction, field)
		}
	}
	return nil
}

// ToPending converts an action into its stored form. A nil action stores nothing.
func ToPending(a Action, userHint string) *sessions.PendingAction {
	if a == nil {
		return nil
	}
	return &sessions.PendingAction{Kind: string(a.Kind()), ResourceID: a.ResourceID(), UserHint: userHint}
}

// FromPending rebuilds the action from a stored record, validating it again.
func FromPending(p *sessions.PendingAction) (Action, error) {
	if p == nil {
		return nil, nil
	}
	return NewAction(p.Kind, p.ResourceID)
}
