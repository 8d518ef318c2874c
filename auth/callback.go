package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/transcript-summary/credentials"
	"github.com/jrsteele09/transcript-summary/internal/utils"
	"github.com/jrsteele09/transcript-summary/returnctx"
	"github.com/jrsteele09/transcript-summary/sessions"
)

// CallbackParams are the query parameters the provider redirects back with.
type CallbackParams struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// Result tells the caller where to send the browser after a successful sign-in.
type Result struct {
	ResumePath string
	Action     returnctx.Action
	Identity   *sessions.Identity
}

type takenFlow struct {
	pending  *sessions.PendingAction
	backup   string
	verifier string
}

// Complete validates the callback against the session's CSRF state, redeems the code and stores
// the credential bundle. The state is consumed before the exchange, so a replayed callback fails.
func (c *Coordinator) Complete(ctx context.Context, sessionID string, p CallbackParams) (Result, error) {
	if p.Error != "" {
		if sessionID != "" {
			c.abandon(ctx, sessionID, p.State)
		}
		return Result{}, providerDenied(p)
	}
	if sessionID == "" {
		return Result{}, ErrSessionLost
	}
	if p.State == "" {
		return Result{}, ErrStateMismatch
	}
	if p.Code == "" {
		return Result{}, ErrMissingCode
	}

	var taken takenFlow
	_, err := sessions.Update(ctx, c.store, sessionID, false, 0, func(rec *sessions.Record) error {
		if !statesEqual(rec.CSRFState, p.State) {
			return ErrStateMismatch
		}
		if c.flowTTL > 0 && c.nowTime().Sub(rec.StateIssuedAt) > c.flowTTL {
			return fmt.Errorf("%w: sign-in took too long", ErrStateMismatch)
		}
		taken = takenFlow{pending: rec.Pending, backup: rec.ReturnContext, verifier: rec.CodeVerifier}
		rec.ClearFlow()
		return nil
	})
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return Result{}, ErrSessionLost
	case err != nil:
		return Result{}, err
	}

	bundle, err := c.provider.Exchange(ctx, p.Code, taken.verifier)
	if err != nil {
		log.Error().Err(err).Msg("authorization code exchange failed")
		return Result{}, fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err)
	}
	identity := c.identityFor(ctx, bundle)
	encoded, err := c.codec.Encode(bundle)
	if err != nil {
		return Result{}, err
	}

	_, err = sessions.Update(ctx, c.store, sessionID, false, 0, func(rec *sessions.Record) error {
		rec.Credentials = encoded
		rec.Identity = identity
		return nil
	})
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return Result{}, ErrSessionLost
	case err != nil:
		return Result{}, fmt.Errorf("[auth Complete] %w", err)
	}

	action := c.recoverAction(taken, p.State)
	result := Result{ResumePath: returnctx.DefaultPath, Action: action, Identity: identity}
	if action != nil {
		result.ResumePath = action.ResumePath()
	}
	return result, nil
}

// abandon clears the flow when the provider reports an error for the state we issued, so that
// state can never be used again. Anything else is left alone.
func (c *Coordinator) abandon(ctx context.Context, sessionID, state string) {
	_, err := sessions.Update(ctx, c.store, sessionID, false, 0, func(rec *sessions.Record) error {
		if !statesEqual(rec.CSRFState, state) {
			return errNoFlow
		}
		rec.ClearFlow()
		return nil
	})
	if err != nil && !errors.Is(err, errNoFlow) && !errors.Is(err, sessions.ErrNotFound) {
		log.Error().Err(err).Msg("failed to clear abandoned authorization flow")
	}
}

// recoverAction prefers the session's own copy of the pending action. The backup token is only
// trusted when its correlation id equals the state that was already validated.
func (c *Coordinator) recoverAction(taken takenFlow, state string) returnctx.Action {
	if taken.pending != nil {
		action, err := returnctx.FromPending(taken.pending)
		if err == nil {
			return action
		}
		log.Warn().Err(err).Msg("stored pending action is invalid")
	}
	if taken.backup == "" {
		return nil
	}

	backup, err := c.encoder.Decode(taken.backup)
	if err != nil {
		log.Warn().Err(err).Msg("ignoring unreadable return-context backup")
		return nil
	}
	if !statesEqual(backup.CorrelationID, state) {
		log.Warn().Msg("ignoring return-context backup issued for a different flow")
		return nil
	}
	return backup.Action
}

func (c *Coordinator) identityFor(ctx context.Context, b credentials.Bundle) *sessions.Identity {
	if c.identity != nil {
		identity, err := c.identity.Identity(ctx, b.AccessToken)
		if err == nil {
			return utils.Ptr(identity)
		}
		log.Warn().Err(err).Msg("profile lookup failed, using id_token claims")
	}
	if b.Claims.IsZero() {
		return nil
	}
	return &sessions.Identity{DisplayName: b.Claims.Name, Email: b.Claims.Email}
}

var errNoFlow = errors.New("no matching flow")

const maxErrorDescription = 256

// providerDenied keeps the provider's description for the log. It is never shown to the user.
func providerDenied(p CallbackParams) error {
	if p.ErrorDescription == "" {
		return fmt.Errorf("%w: %s", ErrProviderDenied, p.Error)
	}
	desc := p.ErrorDescription
	if len(desc) > maxErrorDescription {
		desc = strings.ToValidUTF8(desc[:maxErrorDescription], "")
	}
	return fmt.Errorf("%w: %s: %q", ErrProviderDenied, p.Error, desc)
}

func statesEqual(stored, presented string) bool {
	if stored == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) == 1
}
