package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anguillanneuf/BizTrack/internal/cqrs"
	"github.com/anguillanneuf/BizTrack/internal/docstore"
	"github.com/anguillanneuf/BizTrack/internal/events"
	"github.com/anguillanneuf/BizTrack/internal/models"
	"github.com/anguillanneuf/BizTrack/internal/notify"
)

// reserved fields are owned by the service and never taken from callers.
var reserved = map[string]bool{"id": true, "userId": true, "createdAt": true, "updatedAt": true}

// RecordCommandService gates and dispatches income, expense and appointment
// writes. Writes complete asynchronously; their outcome reaches the viewer as
// a notification and through the live views.
type RecordCommandService struct {
	store      docstore.Store
	publisher  events.Publisher
	notifier   notify.Notifier
	dispatcher *Dispatcher
}

func NewRecordCommandService(
	store docstore.Store,
	publisher events.Publisher,
	notifier notify.Notifier,
	dispatcher *Dispatcher,
) *RecordCommandService {
	return &RecordCommandService{
		store:      store,
		publisher:  publisher,
		notifier:   notifier,
		dispatcher: dispatcher,
	}
}

// CreateRecord returns the id the record will be stored under.
func (s *RecordCommandService) CreateRecord(ctx context.Context, cmd cqrs.CreateRecordCommand) (string, error) {
	if err := s.check(cmd.Kind, cmd.ViewerID, cmd.OwnerID, actionCreate); err != nil {
		return "", err
	}
	id := cmd.RecordID
	if id == "" {
		id = docstore.NewID()
	}
	data := storeFields(cmd.Fields)
	data["userId"] = cmd.OwnerID
	data["createdAt"] = docstore.ServerTimestamp
	data["updatedAt"] = docstore.ServerTimestamp

	path := docstore.Join(cmd.Kind.Collection(cmd.OwnerID), id)
	err := s.dispatch(ctx, cmd.Kind, actionCreate, cmd.ViewerID, events.RecordCreated, events.RecordEvent{
		Kind: string(cmd.Kind), OwnerID: cmd.OwnerID, RecordID: id,
	}, func(ctx context.Context) error {
		return s.store.Create(ctx, path, data)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *RecordCommandService) UpdateRecord(ctx context.Context, cmd cqrs.UpdateRecordCommand) error {
	if err := s.check(cmd.Kind, cmd.ViewerID, cmd.OwnerID, actionUpdate); err != nil {
		return err
	}
	data := storeFields(cmd.Fields)
	data["updatedAt"] = docstore.ServerTimestamp

	path := docstore.Join(cmd.Kind.Collection(cmd.OwnerID), cmd.RecordID)
	return s.dispatch(ctx, cmd.Kind, actionUpdate, cmd.ViewerID, events.RecordUpdated, events.RecordEvent{
		Kind: string(cmd.Kind), OwnerID: cmd.OwnerID, RecordID: cmd.RecordID,
	}, func(ctx context.Context) error {
		return s.store.Update(ctx, path, data)
	})
}

func (s *RecordCommandService) DeleteRecord(ctx context.Context, cmd cqrs.DeleteRecordCommand) error {
	if err := s.check(cmd.Kind, cmd.ViewerID, cmd.OwnerID, actionDelete); err != nil {
		return err
	}
	path := docstore.Join(cmd.Kind.Collection(cmd.OwnerID), cmd.RecordID)
	return s.dispatch(ctx, cmd.Kind, actionDelete, cmd.ViewerID, events.RecordDeleted, events.RecordEvent{
		Kind: string(cmd.Kind), OwnerID: cmd.OwnerID, RecordID: cmd.RecordID,
	}, func(ctx context.Context) error {
		return s.store.Delete(ctx, path)
	})
}

func (s *RecordCommandService) check(kind models.RecordKind, viewerID, ownerID string, a action) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}
	if err := authorize(viewerID, ownerID); err != nil {
		slog.Warn("record mutation denied", "kind", kind, "action", a, "viewer_id", viewerID, "owner_id", ownerID)
		if viewerID != "" {
			s.notifier.Notify(viewerID, deniedToast(kind, a, err))
		}
		return err
	}
	return nil
}

func (s *RecordCommandService) dispatch(
	ctx context.Context,
	kind models.RecordKind,
	a action,
	viewerID, eventType string,
	payload events.RecordEvent,
	write func(context.Context) error,
) error {
	name := fmt.Sprintf("%s.%s", kind, a)
	return s.dispatcher.Submit(ctx, name, func(ctx context.Context) error {
		if err := write(ctx); err != nil {
			return err
		}
		if err := s.publisher.Publish(ctx, events.RecordEventsStream, eventType, payload); err != nil {
			slog.ErrorContext(ctx, "failed to publish record event", "type", eventType, "record_id", payload.RecordID, "err", err)
		}
		return nil
	}, func(err error) {
		if err != nil {
			s.notifier.Notify(viewerID, failureToast(kind, a))
			return
		}
		s.notifier.Notify(viewerID, successToast(kind, a))
	})
}

func storeFields(fields map[string]any) docstore.Data {
	data := make(docstore.Data, len(fields)+3)
	for k, v := range fields {
		if reserved[k] {
			continue
		}
		data[k] = v
	}
	return data
}
