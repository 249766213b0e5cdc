package eventbus

import "rizo-card-bot/internal/domain/card"

// Topics published by the card pipeline.
const (
	EventGenerationStarted   = "generation:started"
	EventGenerationCompleted = "generation:completed"
	EventGenerationFailed    = "generation:failed"

	EventSessionArmed    = "session:armed"
	EventSessionCooldown = "session:cooldown"
)

// GenerationEventData describes one pipeline run.
type GenerationEventData struct {
	RequestID  string         `json:"request_id"`
	UserID     int64          `json:"user_id"`
	ChatID     int64          `json:"chat_id"`
	Trail      []card.Attempt `json:"trail,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// SessionEventData describes a session state transition.
type SessionEventData struct {
	UserID          int64 `json:"user_id"`
	CooldownSeconds int64 `json:"cooldown_seconds,omitempty"`
}
