package services

import (
	"time"

	"rizo-card-bot/internal/domain/eventbus"
	"rizo-card-bot/internal/platform/logging"
	"rizo-card-bot/internal/platform/storage"
)

// HistoryRecorder subscribes to pipeline events and writes the
// generation history. Running it off the bus keeps database latency out
// of the chat reply path.
type HistoryRecorder struct {
	store  *storage.HistoryStore
	logger *logging.Logger
}

// NewHistoryRecorder wires a recorder to the shared bus.
func NewHistoryRecorder(store *storage.HistoryStore, logger *logging.Logger) (*HistoryRecorder, error) {
	if logger == nil {
		logger = logging.DefaultLogger
	}
	r := &HistoryRecorder{store: store, logger: logger}

	if err := eventbus.SubscribeAsync(eventbus.EventGenerationCompleted, r.onCompleted); err != nil {
		return nil, err
	}
	if err := eventbus.SubscribeAsync(eventbus.EventGenerationFailed, r.onFailed); err != nil {
		return nil, err
	}
	return r, nil
}

// Close detaches the recorder and drains in-flight handlers.
func (r *HistoryRecorder) Close() error {
	if err := eventbus.Unsubscribe(eventbus.EventGenerationCompleted, r.onCompleted); err != nil {
		return err
	}
	if err := eventbus.Unsubscribe(eventbus.EventGenerationFailed, r.onFailed); err != nil {
		return err
	}
	eventbus.WaitAsync()
	return nil
}

func (r *HistoryRecorder) onCompleted(data eventbus.GenerationEventData) {
	r.record(data, true)
}

func (r *HistoryRecorder) onFailed(data eventbus.GenerationEventData) {
	r.record(data, false)
}

func (r *HistoryRecorder) record(data eventbus.GenerationEventData, success bool) {
	err := r.store.Record(data.RequestID, data.UserID, data.ChatID, success,
		data.Trail, data.Error, time.Duration(data.DurationMS)*time.Millisecond)
	if err != nil {
		r.logger.ErrorTag("storage", "history record failed: request=%s err=%v",
			data.RequestID, err)
		return
	}
	r.logger.DebugTag("storage", "history recorded: request=%s success=%t",
		data.RequestID, success)
}
