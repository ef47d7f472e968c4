package bridge

import (
	"context"

	"github.com/coachpo/secsearch/errs"
	"github.com/coachpo/secsearch/internal/backend"
	"github.com/coachpo/secsearch/internal/observability"
)

// authorize runs the token handshake. Each step waits at most AuthTimeout.
func (a *Adapter) authorize(ctx context.Context, session backend.Session) error {
	if err := session.OpenService(ctx, backend.AuthService); err != nil {
		return errs.New(adapterComponent, errs.CodeAuthorization,
			errs.WithMessage("Failed to open auth service: "+backend.AuthService), errs.WithCause(err))
	}

	token, err := a.generateToken(ctx, session)
	if err != nil {
		return err
	}

	if err := session.SendAuthorizationRequest(ctx, token); err != nil {
		return errs.New(adapterComponent, errs.CodeAuthorization,
			errs.WithMessage("Authorization Failed"), errs.WithCause(err))
	}

	authCtx, cancel := context.WithTimeout(ctx, a.cfg.AuthTimeout)
	defer cancel()
	for {
		ev, err := session.NextEvent(authCtx)
		if err != nil {
			return errs.New(adapterComponent, errs.CodeAuthorization,
				errs.WithMessage("Authorization Failed"), errs.WithCause(err))
		}
		// Only the authorization request is outstanding, so any response belongs to it.
		switch ev.Type {
		case backend.EventResponse, backend.EventPartialResponse, backend.EventRequestStatus:
		default:
			continue
		}
		for _, msg := range ev.Messages {
			a.logger.Debug("authorization reply", observability.Field{Key: "message_type", Value: msg.Type})
			if msg.Type != backend.MsgAuthorizationSuccess {
				return errs.New(adapterComponent, errs.CodeAuthorization,
					errs.WithMessage("Authorization Failed"), errs.WithField("message_type", msg.Type))
			}
		}
		return nil
	}
}

func (a *Adapter) generateToken(ctx context.Context, session backend.Session) (string, error) {
	tokenCtx, cancel := context.WithTimeout(ctx, a.cfg.AuthTimeout)
	defer cancel()

	queue, err := session.GenerateToken(tokenCtx)
	if err != nil {
		return "", errs.New(adapterComponent, errs.CodeToken,
			errs.WithMessage("Failed to get token"), errs.WithCause(err))
	}
	for {
		ev, err := queue.NextEvent(tokenCtx)
		if err != nil {
			return "", errs.New(adapterComponent, errs.CodeToken,
				errs.WithMessage("Failed to get token"), errs.WithCause(err))
		}
		if ev.Type != backend.EventTokenStatus && ev.Type != backend.EventRequestStatus {
			continue
		}
		for _, msg := range ev.Messages {
			switch msg.Type {
			case backend.MsgTokenGenerationSuccess:
				token, err := msg.Elements.GetString(backend.ElemToken)
				if err == nil && token != "" {
					return token, nil
				}
			case backend.MsgTokenGenerationFailure:
				return "", errs.New(adapterComponent, errs.CodeToken,
					errs.WithMessage("Failed to get token"), errs.WithField("message_type", msg.Type))
			}
		}
	}
}
