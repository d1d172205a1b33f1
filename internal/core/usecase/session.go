package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/file-converter/internal/core/domain"
)

// Session lists the caller's session and the artifacts still on record.
func (uc *ConversionUseCase) Session(ctx context.Context, caller domain.Caller) (*domain.Session, []domain.Artifact, error) {
	session, err := uc.callerSession(ctx, caller)
	if err != nil {
		return nil, nil, err
	}
	artifacts := make([]domain.Artifact, 0, len(session.ArtifactIDs))
	for _, id := range session.ArtifactIDs {
		meta, err := uc.store.Stat(ctx, id)
		if err != nil {
			if domain.IsKind(err, domain.ErrNotFound) {
				continue
			}
			return nil, nil, domain.WrapError(domain.ErrInternal, "list session artifacts", err)
		}
		artifacts = append(artifacts, *meta)
	}
	return session, artifacts, nil
}

// ResetSession deletes every artifact of the session and keeps the session.
func (uc *ConversionUseCase) ResetSession(ctx context.Context, caller domain.Caller) (int, error) {
	session, err := uc.callerSession(ctx, caller)
	if err != nil {
		return 0, err
	}
	deleted, err := uc.purge(ctx, session)
	uc.logger.Info("session_reset", "session_id", session.ID, "deleted", deleted)
	return deleted, err
}

// CloseSession deletes the session's artifacts and then the session itself.
func (uc *ConversionUseCase) CloseSession(ctx context.Context, caller domain.Caller) error {
	session, err := uc.callerSession(ctx, caller)
	if err != nil {
		return err
	}
	deleted, err := uc.purge(ctx, session)
	if err != nil {
		return err
	}
	if err := uc.ledger.Remove(ctx, session.ID); err != nil {
		return domain.WrapError(domain.ErrInternal, "remove session", err)
	}
	uc.logger.Info("session_closed", "session_id", session.ID, "deleted", deleted)
	return nil
}

func (uc *ConversionUseCase) callerSession(ctx context.Context, caller domain.Caller) (*domain.Session, error) {
	if !domain.ValidID(caller.SessionID) {
		return nil, domain.NewFailure(domain.ErrNotFound, "session not found")
	}
	session, err := uc.ledger.Get(ctx, caller.SessionID)
	if err != nil {
		if domain.IsKind(err, domain.ErrNotFound) {
			return nil, domain.NewFailure(domain.ErrNotFound, "session not found")
		}
		return nil, domain.WrapError(domain.ErrInternal, "load session", err)
	}
	if !session.OwnedBy(caller.Identity) {
		return nil, domain.NewFailure(domain.ErrForbidden, "session belongs to another user")
	}
	if session.Expired(uc.now()) {
		return nil, domain.NewFailure(domain.ErrNotFound, "session not found")
	}
	return session, nil
}

// purge deletes each artifact's bytes, then its ledger entry.
func (uc *ConversionUseCase) purge(ctx context.Context, session *domain.Session) (int, error) {
	var (
		deleted int
		errs    []error
	)
	for _, id := range session.ArtifactIDs {
		if err := uc.store.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			continue
		}
		if err := uc.ledger.Detach(ctx, session.ID, id); err != nil {
			errs = append(errs, fmt.Errorf("detach %s: %w", id, err))
			continue
		}
		deleted++
	}
	if len(errs) > 0 {
		return deleted, domain.WrapError(domain.ErrInternal, "purge session", errors.Join(errs...))
	}
	return deleted, nil
}
