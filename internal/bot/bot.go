// Package bot wires the inbound message pipeline: normalize the sender,
// resume any pending conversation, run the rule cascade, fall back to the
// LLM interpreter, then dispatch or prompt for the next missing slot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/task-bot/internal/channel"
	"github.com/xaenox/task-bot/internal/conversation"
	"github.com/xaenox/task-bot/internal/dispatch"
	"github.com/xaenox/task-bot/internal/models"
	"github.com/xaenox/task-bot/internal/normalize"
	"github.com/xaenox/task-bot/internal/parser"
	"github.com/xaenox/task-bot/internal/storage"
	"go.uber.org/zap"
)

// InboundMessage is the transport-agnostic shape of one webhook delivery.
type InboundMessage struct {
	From             string
	Body             string
	NumMedia         int
	MediaURL         string
	MediaContentType string
}

// Interpreter is the LLM fallback, consulted only when the rule cascade
// returns unknown.
type Interpreter interface {
	Interpret(ctx context.Context, text string, user *models.User, now time.Time) (*models.Intent, error)
}

// Transcriber converts a voice note into text. It is an external
// collaborator; a nil Transcriber means voice notes are not supported.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL, contentType string) (string, error)
}

type Bot struct {
	store        storage.Storage
	parser       *parser.Parser
	interpreter  Interpreter
	conversation *conversation.Engine
	dispatcher   *dispatch.Dispatcher
	channel      channel.Channel
	transcriber  Transcriber
	logger       *zap.Logger
}

func New(store storage.Storage, p *parser.Parser, interp Interpreter, conv *conversation.Engine, disp *dispatch.Dispatcher, ch channel.Channel, logger *zap.Logger) *Bot {
	if ch == nil {
		ch = channel.Noop{}
	}
	return &Bot{
		store:        store,
		parser:       p,
		interpreter:  interp,
		conversation: conv,
		dispatcher:   disp,
		channel:      ch,
		logger:       logger,
	}
}

// SetTranscriber attaches the voice-note collaborator.
func (b *Bot) SetTranscriber(t Transcriber) { b.transcriber = t }

// ChannelConfigured reports whether outbound delivery is possible.
func (b *Bot) ChannelConfigured() bool { return b.channel.Configured() }

// HandleInbound processes one message end to end and sends the reply. All
// failures are converted to a best-effort outbound error message; the caller
// (the webhook) always acknowledges the transport regardless.
func (b *Bot) HandleInbound(ctx context.Context, msg InboundMessage) {
	traceID := uuid.New().String()
	sender := normalize.SenderKey(msg.From)
	logger := b.logger.With(
		zap.String("trace_id", traceID),
		zap.String("sender", sender))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic while handling message", zap.Any("panic", r))
			b.reply(ctx, sender, "Sorry, something went wrong. Please try again.")
		}
	}()

	reply, err := b.handle(ctx, logger, sender, msg)
	if err != nil {
		reply = b.errorReply(logger, err)
	}
	if reply != "" {
		b.reply(ctx, sender, reply)
	}
}

func (b *Bot) handle(ctx context.Context, logger *zap.Logger, sender string, msg InboundMessage) (string, error) {
	now := time.Now()

	text := strings.TrimSpace(msg.Body)
	if msg.NumMedia > 0 && strings.HasPrefix(msg.MediaContentType, "audio/") {
		if b.transcriber == nil {
			return "Sorry, I can't process voice notes yet. Please type your message.", nil
		}
		transcript, err := b.transcriber.Transcribe(ctx, msg.MediaURL, msg.MediaContentType)
		if err != nil {
			logger.Error("Voice note transcription failed", zap.Error(err))
			return "Sorry, I couldn't understand that voice note. Please type your message.", nil
		}
		text = strings.TrimSpace(transcript)
	}
	if text == "" {
		return "I didn't receive any text. Send \"help\" to see what I can do.", nil
	}

	user, err := b.store.GetUserByPhone(ctx, sender)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Info("Message from unregistered sender")
		return "This number isn't registered with the task system. Please contact your HR admin.", nil
	}
	if err != nil {
		return "", fmt.Errorf("look up sender: %w", err)
	}

	// A live pending conversation consumes the message as a slot reply.
	pending, err := b.conversation.Pending(ctx, sender, now)
	if err != nil {
		return "", fmt.Errorf("load pending conversation: %w", err)
	}
	if pending != nil {
		intent, prompt, cancelled, err := b.conversation.Resume(ctx, pending, text, now)
		if err != nil {
			return "", err
		}
		if cancelled {
			return "Okay, cancelled. What else can I do for you?", nil
		}
		if intent == nil {
			return prompt, nil
		}
		return b.dispatcher.Dispatch(ctx, user, intent, now)
	}

	intent := b.parser.Parse(text, now)
	if intent.Kind == models.KindUnknown && b.interpreter != nil {
		resolved, err := b.interpreter.Interpret(ctx, text, user, now)
		if err != nil {
			// ParseFailure recovers locally: keep the rule-based unknown.
			logger.Warn("Fallback interpreter failed", zap.Error(err))
		} else {
			intent = resolved
		}
	}

	complete, prompt, err := b.conversation.Begin(ctx, sender, user.ID, intent, now)
	if err != nil {
		return "", err
	}
	if complete == nil {
		return prompt, nil
	}
	return b.dispatcher.Dispatch(ctx, user, complete, now)
}

// errorReply maps the dispatch taxonomy to user-facing text; anything
// unclassified becomes a generic apology and is logged.
func (b *Bot) errorReply(logger *zap.Logger, err error) string {
	var validation *dispatch.ValidationError
	var notFound *dispatch.NotFoundError
	var permission *dispatch.PermissionError
	var persistence *dispatch.PersistenceError
	switch {
	case errors.As(err, &validation),
		errors.As(err, &notFound),
		errors.As(err, &permission),
		errors.As(err, &persistence):
		return err.Error()
	default:
		logger.Error("Failed to handle message", zap.Error(err))
		return "Sorry, something went wrong. Please try again."
	}
}

func (b *Bot) reply(ctx context.Context, to, text string) {
	if !b.channel.Configured() {
		b.logger.Warn("Outbound channel not configured, dropping reply",
			zap.String("to", to))
		return
	}
	if err := b.channel.Send(ctx, to, text); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.String("to", to))
	}
}
