package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/authgate/internal/events"
)

// AuditService records user lifecycle events.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventUserProvisioned, a.handleUserProvisioned)
	a.dispatcher.Subscribe(events.EventUserLinked, a.handleUserLinked)
	a.dispatcher.Subscribe(events.EventUserEmailUpdated, a.handleUserEmailUpdated)
}

func (a *AuditService) handleUserProvisioned(_ context.Context, event events.Event) error {
	fields := a.fields(event)
	if p, ok := event.Payload.(events.UserProvisionedPayload); ok {
		fields = append(fields, zap.String("subject", p.Subject))
	}
	a.logger.Info("UserProvisioned", fields...)
	return nil
}

func (a *AuditService) handleUserLinked(_ context.Context, event events.Event) error {
	fields := a.fields(event)
	if p, ok := event.Payload.(events.UserLinkedPayload); ok {
		fields = append(fields, zap.String("subject", p.Subject))
		if p.PreviousSubject != nil {
			fields = append(fields, zap.String("previous_subject", *p.PreviousSubject))
		}
	}
	a.logger.Info("UserLinked", fields...)
	return nil
}

func (a *AuditService) handleUserEmailUpdated(_ context.Context, event events.Event) error {
	a.logger.Info("UserEmailUpdated", a.fields(event)...)
	return nil
}

func (a *AuditService) fields(event events.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("user_id", event.UserID),
		zap.String("claims_source", string(event.Source)),
		zap.Time("at", event.Timestamp),
	}
}
