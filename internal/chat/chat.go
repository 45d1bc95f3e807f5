// Package chat implements two-party conversations with live message snapshots.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cityfam/cityfam/internal/database"
	"github.com/cityfam/cityfam/internal/metrics"
	"github.com/cityfam/cityfam/internal/model"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotParticipant is returned when a user acts on a conversation they are not part of.
	ErrNotParticipant = errors.New("not a participant of this conversation")
	// ErrEmptyMessage is returned for blank message text.
	ErrEmptyMessage = errors.New("message text is empty")
	// ErrSelfConversation is returned when a user tries to message themselves.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	// ErrMessageTooLong is returned for message text over MaxMessageLength bytes.
	ErrMessageTooLong = errors.New("message text is too long")
)

// HistoryLimit is the number of messages in a snapshot.
const HistoryLimit = 100

// MaxMessageLength bounds message text in bytes.
const MaxMessageLength = 4000

// Service manages conversations and message delivery.
type Service struct {
	store  database.Store
	broker Broker
	log    logrus.FieldLogger
}

// NewService creates a chat service.
func NewService(store database.Store, broker Broker, log logrus.FieldLogger) *Service {
	return &Service{store: store, broker: broker, log: log}
}

// StartConversation returns the conversation between userID and otherID,
// creating it on first use.
func (s *Service) StartConversation(ctx context.Context, userID, otherID string) (*model.Conversation, error) {
	if userID == otherID {
		return nil, ErrSelfConversation
	}
	if _, err := s.store.GetUser(ctx, otherID); err != nil {
		return nil, fmt.Errorf("user %s: %w", otherID, err)
	}
	c, err := s.store.FindConversationByPair(ctx, userID, otherID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	c = &model.Conversation{Participants: []string{userID, otherID}}
	err = s.store.RunInTx(ctx, func(q database.Queries) error {
		return q.CreateConversation(ctx, c)
	})
	if errors.Is(err, database.ErrConflict) {
		// Lost a race with the other participant.
		return s.store.FindConversationByPair(ctx, userID, otherID)
	}
	if err != nil {
		return nil, err
	}
	return s.store.GetConversation(ctx, c.ID)
}

// Conversations lists the user's conversations, most recent first.
func (s *Service) Conversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return s.store.ListConversations(ctx, userID)
}

// Send stores a message and notifies subscribers of the conversation.
func (s *Service) Send(ctx context.Context, conversationID, senderID, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrMessageTooLong, len(text), MaxMessageLength)
	}
	if _, err := s.authorize(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	m := &model.Message{ConversationID: conversationID, SenderID: senderID, Text: text}
	if err := s.store.RunInTx(ctx, func(q database.Queries) error {
		return q.AddMessage(ctx, m)
	}); err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	if err := s.broker.Publish(ctx, conversationID); err != nil {
		// The message is stored; subscribers pick it up with the next change.
		s.log.WithError(err).WithField("conversation_id", conversationID).Warn("publish failed")
	}
	return m, nil
}

// Messages returns up to limit latest messages, oldest first. A non-positive
// limit selects HistoryLimit.
func (s *Service) Messages(ctx context.Context, conversationID, userID string, limit int) ([]model.Message, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	return s.store.ListMessages(ctx, conversationID, limit)
}

func (s *Service) authorize(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	c, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

// Subscribe opens a live view of a conversation. The first snapshot is
// delivered immediately; later ones follow each change. A slow reader only
// ever sees the most recent snapshot.
func (s *Service) Subscribe(ctx context.Context, conversationID, userID string) (*Subscription, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	notify, cancelNotify, err := s.broker.Subscribe(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	updates := make(chan []model.Message, 1)
	sub := &Subscription{
		C:       updates,
		updates: updates,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	metrics.SubscriberOpened()

	go func() {
		defer close(sub.done)
		defer close(sub.updates)
		defer metrics.SubscriberClosed()
		defer cancelNotify()

		log := s.log.WithField("conversation_id", conversationID)
		deliver := func() {
			msgs, err := s.store.ListMessages(ctx, conversationID, HistoryLimit)
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("snapshot read failed")
				}
				return
			}
			sub.offer(msgs)
		}

		deliver()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-notify:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()
	return sub, nil
}

// Subscription is a live conversation view.
type Subscription struct {
	// C yields message snapshots, oldest message first. It is closed once the
	// subscription stops.
	C <-chan []model.Message

	updates chan []model.Message
	cancel  context.CancelFunc
	done    chan struct{}
}

// offer replaces any undelivered snapshot with msgs. Only the subscription
// goroutine sends, so the send after draining never blocks.
func (s *Subscription) offer(msgs []model.Message) {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- msgs
}

// Close stops the subscription and waits for its goroutine to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
