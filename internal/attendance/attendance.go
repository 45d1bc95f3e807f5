// Package attendance maintains event attendee sets and their denormalized counters.
package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/metrics"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/sirupsen/logrus"
)

// ErrNotAttending is returned when a check-in is attempted by a non-attendee.
var ErrNotAttending = errors.New("user is not attending this event")

// Service toggles attendance. Every mutation runs in a single store transaction,
// so the attendee set, the counter and the user's attending list move together.
// The counter only moves when the attendee set actually changed, and always
// relative to its stored value.
type Service struct {
	store database.Store
	log   logrus.FieldLogger
}

// NewService creates an attendance service.
func NewService(store database.Store, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: log}
}

// Toggle adds userID to the event's attendees, or removes it if already present.
// The returned event is re-read after the attempt and reflects confirmed state,
// also when the toggle failed.
func (s *Service) Toggle(ctx context.Context, eventID, userID string) (*model.Event, bool, error) {
	var attending bool
	txErr := s.store.RunInTx(ctx, func(q database.Queries) error {
		ev, err := q.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.HasAttendee(userID) {
			removed, err := q.RemoveAttendee(ctx, eventID, userID)
			if err != nil {
				return fmt.Errorf("remove attendee: %w", err)
			}
			attending = false
			if !removed {
				return nil
			}
			return q.AdjustAttendeeCount(ctx, eventID, -1)
		}
		added, err := q.AddAttendee(ctx, eventID, userID)
		if err != nil {
			return fmt.Errorf("add attendee: %w", err)
		}
		attending = true
		if !added {
			return nil
		}
		return q.AdjustAttendeeCount(ctx, eventID, 1)
	})

	log := s.log.WithFields(logrus.Fields{"event_id": eventID, "user_id": userID})
	if txErr != nil {
		log.WithError(txErr).Error("attendance toggle failed")
		metrics.RecordToggle("error")
	} else if attending {
		metrics.RecordToggle("joined")
	} else {
		metrics.RecordToggle("left")
	}

	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if txErr != nil {
			return nil, false, txErr
		}
		return nil, false, fmt.Errorf("reload event: %w", err)
	}
	if txErr != nil {
		return ev, ev.HasAttendee(userID), txErr
	}
	return ev, attending, nil
}

// CheckIn records that an attendee arrived. already is true when the user had
// checked in before.
func (s *Service) CheckIn(ctx context.Context, eventID, userID string) (already bool, err error) {
	err = s.store.RunInTx(ctx, func(q database.Queries) error {
		ev, err := q.GetEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.HasAttendee(userID) {
			return ErrNotAttending
		}
		added, err := q.AddCheckIn(ctx, eventID, userID)
		if err != nil {
			return fmt.Errorf("add check-in: %w", err)
		}
		already = !added
		return nil
	})
	if err != nil {
		return false, err
	}
	s.log.WithFields(logrus.Fields{"event_id": eventID, "user_id": userID, "repeat": already}).Info("check-in recorded")
	return already, nil
}

// RemoveAttendee removes a single attendee id, as done by branch admins.
// Removing a user who is not attending leaves the event untouched.
func (s *Service) RemoveAttendee(ctx context.Context, eventID, attendeeID string) (*model.Event, error) {
	err := s.store.RunInTx(ctx, func(q database.Queries) error {
		if _, err := q.GetEvent(ctx, eventID); err != nil {
			return err
		}
		removed, err := q.RemoveAttendee(ctx, eventID, attendeeID)
		if err != nil {
			return fmt.Errorf("remove attendee: %w", err)
		}
		if !removed {
			return nil
		}
		return q.AdjustAttendeeCount(ctx, eventID, -1)
	})
	if err != nil {
		return nil, err
	}
	return s.store.GetEvent(ctx, eventID)
}

// RecountAttendees repairs counters that drifted from the attendee sets.
func (s *Service) RecountAttendees(ctx context.Context) (int64, error) {
	n, err := s.store.RecountAttendees(ctx)
	if err != nil {
		return 0, fmt.Errorf("recount attendees: %w", err)
	}
	if n > 0 {
		s.log.WithField("events", n).Warn("repaired drifted attendee counts")
	}
	return n, nil
}
