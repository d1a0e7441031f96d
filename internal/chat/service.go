package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/loan-decision/internal/database"
	apperrors "github.com/ZanzyTHEbar/loan-decision/internal/errors"
)

// MaxMessageLength bounds a single chat message in characters
const MaxMessageLength = 4000

// Store persists chat log rows
type Store interface {
	SaveChatMessage(ctx context.Context, msg *database.ChatMessage) error
}

// Responder produces the assistant's answer to a message
type Responder interface {
	Respond(ctx context.Context, userID, message string) string
}

// EchoResponder repeats the message back
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, _ string, message string) string {
	return "Echo: " + message
}

// Options configures a Service
type Options struct {
	Store        Store
	Responder    Responder
	Logger       *slog.Logger
	WriteTimeout time.Duration
}

// Service answers chat messages and logs both sides of the exchange.
// Log write failures are reported but never fail the reply.
type Service struct {
	store        Store
	responder    Responder
	logger       *slog.Logger
	writeTimeout time.Duration
}

// NewService creates a chat service. Store is optional; Responder defaults to EchoResponder.
func NewService(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Responder == nil {
		opts.Responder = EchoResponder{}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Second
	}
	return &Service{
		store:        opts.Store,
		responder:    opts.Responder,
		logger:       opts.Logger,
		writeTimeout: opts.WriteTimeout,
	}
}

// Reply records message from userID ("" when anonymous) and returns the answer
func (s *Service) Reply(ctx context.Context, userID, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", apperrors.NewValidationError("message is required")
	}
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return "", apperrors.NewValidationError("message is too long", MaxMessageLength)
	}

	s.record(ctx, database.NewChatMessage(userID, message, true))
	reply := s.responder.Respond(ctx, userID, message)
	s.record(ctx, database.NewChatMessage(userID, reply, false))

	return reply, nil
}

func (s *Service) record(ctx context.Context, msg *database.ChatMessage) {
	if s.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if err := s.store.SaveChatMessage(ctx, msg); err != nil {
		s.logger.Warn("Failed to save chat log",
			"user_id", msg.UserID,
			"from_user", msg.FromUser,
			"error", err,
		)
	}
}
