// Package services orchestrates the chat flow: update routing, session
// decisions, the generation pipeline, and user-facing replies.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rizo-card-bot/internal/domain/card"
	"rizo-card-bot/internal/domain/eventbus"
	"rizo-card-bot/internal/domain/image"
	"rizo-card-bot/internal/domain/session"
	"rizo-card-bot/internal/platform/logging"
	"rizo-card-bot/internal/transport/telegram"
)

// Reply texts sent back to the chat.
const (
	msgArmed        = "Send me a meme image and I'll make a RIZO card (I'll use the uploaded image as the base)."
	msgArmedAgain   = "Awesome! Send me a new meme image and I'll make another RIZO card for you."
	msgNotArmed     = "Use /generate first, then send your meme image."
	msgBusy         = "🎨 Your card is still generating, hang tight."
	msgGenerating   = "🎨 Generating your RIZO card... this may take a few seconds."
	msgCardCaption  = "✨ Here’s your RIZO card!"
	msgCreateButton = "🎨 Create another RIZO card"

	callbackCreateAnother = "create_another"
)

func cooldownMessage(remaining time.Duration) string {
	return fmt.Sprintf("⏳ Please wait %ds before generating another card.",
		int(remaining.Seconds()))
}

// BotAPI is the slice of the Telegram client the service uses. A stub
// implementation stands in during tests.
type BotAPI interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	SendPhoto(ctx context.Context, chatID int64, filename string, photo []byte, caption string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error)
	SendChatAction(ctx context.Context, chatID int64, action string) error
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
	FetchPhoto(ctx context.Context, fileID string) ([]byte, error)
}

// Dispatcher runs the generation pipeline for one request.
type Dispatcher interface {
	Generate(ctx context.Context, req card.Request) (*card.Result, error)
}

// Options wires the card service's collaborators.
type Options struct {
	Bot        BotAPI
	Sessions   *session.Manager
	Dispatcher Dispatcher
	Validator  *image.Validator
	Stamper    *image.Stamper
	Logger     *logging.Logger
}

// CardService handles webhook updates end to end.
type CardService struct {
	bot        BotAPI
	sessions   *session.Manager
	dispatcher Dispatcher
	validator  *image.Validator
	stamper    *image.Stamper
	logger     *logging.Logger
}

// NewCardService validates the wiring and builds the service.
func NewCardService(opts Options) (*CardService, error) {
	if opts.Bot == nil || opts.Sessions == nil || opts.Dispatcher == nil ||
		opts.Validator == nil || opts.Stamper == nil {
		return nil, fmt.Errorf("card service: bot, sessions, dispatcher, validator, and stamper are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.DefaultLogger
	}
	return &CardService{
		bot:        opts.Bot,
		sessions:   opts.Sessions,
		dispatcher: opts.Dispatcher,
		validator:  opts.Validator,
		stamper:    opts.Stamper,
		logger:     logger,
	}, nil
}

// ProcessUpdate routes one webhook update. Errors are logged rather than
// returned to the webhook caller; Telegram retries delivery on non-200
// responses and a retry would replay the whole pipeline.
func (s *CardService) ProcessUpdate(ctx context.Context, upd *telegram.Update) {
	switch {
	case upd == nil:
		return
	case upd.CallbackQuery != nil:
		s.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		s.handleMessage(ctx, upd.Message)
	}
}

func (s *CardService) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil {
		return
	}
	switch msg.Command() {
	case "generate", "start":
		s.arm(ctx, msg.From.ID, msg.Chat.ID, msgArmed)
	default:
		if photo := msg.LargestPhoto(); photo != nil {
			s.handlePhoto(ctx, msg.From.ID, msg.Chat.ID, photo)
		}
	}
}

func (s *CardService) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := s.bot.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		s.logger.WarnTag("telegram", "answer callback failed: %v", err)
	}
	if cb.Data != callbackCreateAnother || cb.Message == nil {
		return
	}
	s.arm(ctx, cb.From.ID, cb.Message.Chat.ID, msgArmedAgain)
}

// arm moves the user toward ARMED and reports the decision back to the
// chat. armedText differs between the command and the callback button.
func (s *CardService) arm(ctx context.Context, userID, chatID int64, armedText string) {
	if err := s.bot.SendChatAction(ctx, chatID, telegram.ChatActionTyping); err != nil {
		s.logger.DebugTag("telegram", "chat action failed: %v", err)
	}

	decision, err := s.sessions.Arm(ctx, userID)
	if err != nil {
		s.logger.ErrorTag("session", "arm failed for user %d: %v", userID, err)
		s.reply(ctx, chatID, "⚠️ Something went wrong, please try again.")
		return
	}

	switch decision.Outcome {
	case session.OutcomeArmed:
		eventbus.Publish(eventbus.EventSessionArmed, eventbus.SessionEventData{UserID: userID})
		s.reply(ctx, chatID, armedText)
	case session.OutcomeCooldown:
		eventbus.Publish(eventbus.EventSessionCooldown, eventbus.SessionEventData{
			UserID:          userID,
			CooldownSeconds: int64(decision.Remaining.Seconds()),
		})
		s.reply(ctx, chatID, cooldownMessage(decision.Remaining))
	case session.OutcomeBusy:
		s.reply(ctx, chatID, msgBusy)
	}
}

func (s *CardService) handlePhoto(ctx context.Context, userID, chatID int64, photo *telegram.PhotoSize) {
	decision, err := s.sessions.BeginGeneration(ctx, userID)
	if err != nil {
		s.logger.ErrorTag("session", "begin failed for user %d: %v", userID, err)
		s.reply(ctx, chatID, "⚠️ Something went wrong, please try again.")
		return
	}
	switch decision.Outcome {
	case session.OutcomeNotArmed:
		s.reply(ctx, chatID, msgNotArmed)
		return
	case session.OutcomeBusy:
		s.reply(ctx, chatID, msgBusy)
		return
	case session.OutcomeCooldown:
		s.reply(ctx, chatID, cooldownMessage(decision.Remaining))
		return
	}

	// From here the session is GENERATING; every exit path must call
	// Complete or the user stays stuck.
	requestID := uuid.NewString()
	start := time.Now()
	success := false
	failure := ""
	var result *card.Result
	defer func() {
		if err := s.sessions.Complete(context.WithoutCancel(ctx), userID, success); err != nil {
			s.logger.ErrorTag("session", "complete failed for user %d: %v", userID, err)
		}
		data := eventbus.GenerationEventData{
			RequestID:  requestID,
			UserID:     userID,
			ChatID:     chatID,
			DurationMS: time.Since(start).Milliseconds(),
			Error:      failure,
		}
		if result != nil {
			data.Trail = result.Attempts
		}
		if success {
			eventbus.Publish(eventbus.EventGenerationCompleted, data)
		} else {
			eventbus.Publish(eventbus.EventGenerationFailed, data)
		}
	}()

	eventbus.Publish(eventbus.EventGenerationStarted, eventbus.GenerationEventData{
		RequestID: requestID,
		UserID:    userID,
		ChatID:    chatID,
	})

	if err := s.bot.SendChatAction(ctx, chatID, telegram.ChatActionUploadPhoto); err != nil {
		s.logger.DebugTag("telegram", "chat action failed: %v", err)
	}
	s.reply(ctx, chatID, msgGenerating)

	meme, err := s.bot.FetchPhoto(ctx, photo.FileID)
	if err != nil {
		failure = err.Error()
		s.logger.ErrorTag("pipeline", "photo download failed for request %s: %v", requestID, err)
		s.reply(ctx, chatID, "⚠️ Couldn't download your image, please try again.")
		return
	}
	if _, err := s.validator.ValidateBytes(meme); err != nil {
		failure = err.Error()
		s.logger.WarnTag("pipeline", "image rejected for request %s: %v", requestID, err)
		s.reply(ctx, chatID, fmt.Sprintf("⚠️ That image can't be used: %v", err))
		return
	}

	s.logger.InfoTag("pipeline", "generating card: request=%s user=%d", requestID, userID)
	result, err = s.dispatcher.Generate(ctx, card.Request{
		RequestID: requestID,
		UserID:    userID,
		ChatID:    chatID,
		Meme:      meme,
	})
	if err != nil {
		failure = err.Error()
		s.logger.ErrorTag("pipeline", "generation failed: request=%s err=%v", requestID, err)
		s.reply(ctx, chatID, fmt.Sprintf("⚠️ Something went wrong: %v", err))
		return
	}

	stamped, err := s.stamper.Apply(result.PNG)
	if err != nil {
		failure = err.Error()
		s.logger.ErrorTag("pipeline", "stamping failed: request=%s err=%v", requestID, err)
		s.reply(ctx, chatID, fmt.Sprintf("⚠️ Something went wrong: %v", err))
		return
	}

	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{{Text: msgCreateButton, CallbackData: callbackCreateAnother}},
	}}
	if err := s.bot.SendChatAction(ctx, chatID, telegram.ChatActionUploadPhoto); err != nil {
		s.logger.DebugTag("telegram", "chat action failed: %v", err)
	}
	if _, err := s.bot.SendPhoto(ctx, chatID, "rizo_card.png", stamped, msgCardCaption, markup); err != nil {
		failure = err.Error()
		s.logger.ErrorTag("telegram", "card delivery failed: request=%s err=%v", requestID, err)
		s.reply(ctx, chatID, "⚠️ Your card was generated but couldn't be delivered, please try again.")
		return
	}

	success = true
	s.logger.InfoTag("pipeline", "card delivered: request=%s user=%d attempts=%d duration=%s",
		requestID, userID, len(result.Attempts), time.Since(start).Round(time.Millisecond))
}

func (s *CardService) reply(ctx context.Context, chatID int64, text string) {
	if _, err := s.bot.SendMessage(ctx, chatID, text, nil); err != nil {
		s.logger.WarnTag("telegram", "reply failed: %v", err)
	}
}
