package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/domain"
	"github.com/spec-kit/authgate/internal/events"
	"github.com/spec-kit/authgate/internal/repository"
)

// UserResolver maps provider claims to local users. It is the only writer of
// LocalUser records.
type UserResolver struct {
	users      repository.UserRepository
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// NewUserResolver builds the resolver.
func NewUserResolver(users repository.UserRepository, dispatcher events.Dispatcher, logger *zap.Logger) *UserResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserResolver{
		users:      users,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Resolve returns the local user for claims, linking or provisioning as
// needed. Deleted accounts fail with AccountClosed and are never reactivated.
func (s *UserResolver) Resolve(ctx context.Context, claims domain.Claims) (*domain.LocalUser, error) {
	if !claims.Complete() {
		return nil, domain.ErrIncompleteIdentity("claims lack sub or email")
	}
	claims.Email = domain.NormalizeEmail(claims.Email)

	user, err := s.findExisting(ctx, claims)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	user, err = s.provision(ctx, claims)
	if err == nil {
		return user, nil
	}
	if !repository.IsUniqueViolation(err) {
		return nil, fmt.Errorf("provision user: %w", err)
	}

	// A concurrent request provisioned the same identity first.
	user, err = s.findExisting(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("resolve after concurrent provision: %w", err)
	}
	return user, nil
}

// findExisting returns pgx.ErrNoRows when neither subject nor email match.
func (s *UserResolver) findExisting(ctx context.Context, claims domain.Claims) (*domain.LocalUser, error) {
	user, err := s.users.GetBySubject(ctx, claims.Subject)
	switch {
	case err == nil:
		if user.IsDeleted {
			return nil, domain.ErrAccountClosed()
		}
		if user.Email != claims.Email {
			if err := s.updateEmail(ctx, user, claims); err != nil {
				return nil, err
			}
		}
		return user, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get user by subject: %w", err)
	}

	user, err = s.users.GetByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if user.IsDeleted {
		return nil, domain.ErrAccountClosed()
	}
	return s.link(ctx, user, claims)
}

func (s *UserResolver) updateEmail(ctx context.Context, user *domain.LocalUser, claims domain.Claims) error {
	oldEmail := user.Email
	user.Email = claims.Email

	if err := s.users.Update(ctx, user); err != nil {
		user.Email = oldEmail
		if repository.IsUniqueViolation(err) {
			s.logger.Warn("provider email already used by another local user; keeping stored email",
				zap.String("user_id", user.ID),
			)
			return nil
		}
		return fmt.Errorf("update user email: %w", err)
	}

	s.publish(ctx, events.EventUserEmailUpdated, user.ID, claims.Source, events.UserEmailUpdatedPayload{
		OldEmail: oldEmail,
		NewEmail: user.Email,
	})
	return nil
}

func (s *UserResolver) link(ctx context.Context, user *domain.LocalUser, claims domain.Claims) (*domain.LocalUser, error) {
	previous := user.ProviderSubject
	if previous != nil && *previous != claims.Subject {
		// Moving an already linked account needs a provider-verified email.
		if !claims.EmailVerified {
			s.logger.Warn("refusing to relink user without a verified email",
				zap.String("user_id", user.ID),
				zap.String("previous_subject", *previous),
				zap.String("subject", claims.Subject),
			)
			return nil, domain.ErrInvalidToken("email is linked to another identity", nil)
		}
		s.logger.Warn("relinking user to a new provider subject",
			zap.String("user_id", user.ID),
			zap.String("previous_subject", *previous),
			zap.String("subject", claims.Subject),
		)
	}

	subject := claims.Subject
	user.ProviderSubject = &subject
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("link user: %w", err)
	}

	s.publish(ctx, events.EventUserLinked, user.ID, claims.Source, events.UserLinkedPayload{
		Subject:         subject,
		PreviousSubject: previous,
	})
	return user, nil
}

func (s *UserResolver) provision(ctx context.Context, claims domain.Claims) (*domain.LocalUser, error) {
	subject := claims.Subject
	user := &domain.LocalUser{
		ID:              uuid.NewString(),
		ProviderSubject: &subject,
		Email:           claims.Email,
		FirstName:       claims.GivenName,
		LastName:        claims.FamilyName,
		IsActive:        true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("provisioned local user", zap.String("user_id", user.ID))
	s.publish(ctx, events.EventUserProvisioned, user.ID, claims.Source, events.UserProvisionedPayload{
		Subject: subject,
		Email:   user.Email,
	})
	return user, nil
}

func (s *UserResolver) publish(ctx context.Context, eventType events.EventType, userID string, source domain.ClaimsSource, payload any) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Source:    source,
		Timestamp: s.now(),
		Payload:   payload,
	})
}
