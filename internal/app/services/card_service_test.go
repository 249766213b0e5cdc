package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rizo-card-bot/internal/domain/card"
	"rizo-card-bot/internal/domain/image"
	"rizo-card-bot/internal/domain/session"
	platformtesting "rizo-card-bot/internal/platform/testing"
	"rizo-card-bot/internal/transport/telegram"
)

type sentPhoto struct {
	chatID  int64
	caption string
	markup  *telegram.InlineKeyboardMarkup
}

// stubBot records outgoing traffic and serves a canned meme download.
type stubBot struct {
	mu       sync.Mutex
	messages []string
	photos   []sentPhoto
	meme     []byte
	fetchErr error
}

func (b *stubBot) SendMessage(_ context.Context, chatID int64, text string, _ *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, text)
	return &telegram.Message{MessageID: 1, Chat: telegram.Chat{ID: chatID}}, nil
}

func (b *stubBot) SendPhoto(_ context.Context, chatID int64, _ string, _ []byte, caption string, markup *telegram.InlineKeyboardMarkup) (*telegram.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.photos = append(b.photos, sentPhoto{chatID: chatID, caption: caption, markup: markup})
	return &telegram.Message{MessageID: 2, Chat: telegram.Chat{ID: chatID}}, nil
}

func (b *stubBot) SendChatAction(context.Context, int64, string) error { return nil }

func (b *stubBot) AnswerCallbackQuery(context.Context, string) error { return nil }

func (b *stubBot) FetchPhoto(context.Context, string) ([]byte, error) {
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	return b.meme, nil
}

func (b *stubBot) lastMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return ""
	}
	return b.messages[len(b.messages)-1]
}

type stubDispatcher struct {
	result *card.Result
	err    error
}

func (d *stubDispatcher) Generate(context.Context, card.Request) (*card.Result, error) {
	return d.result, d.err
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 80, G: 80, B: 80, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fixture struct {
	svc   *CardService
	bot   *stubBot
	disp  *stubDispatcher
	clock *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := platformtesting.SetupTestLogger(t)

	store := session.NewMemoryStore(time.Hour, time.Hour)
	t.Cleanup(func() { store.Close() })
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	sessions, err := session.NewManager(session.Options{
		Store:     store,
		Cooldown:  300 * time.Second,
		ArmWindow: 120 * time.Second,
		Clock:     clock.Now,
	})
	require.NoError(t, err)

	stampPath := filepath.Join(t.TempDir(), "stamp.png")
	require.NoError(t, os.WriteFile(stampPath, encodePNG(t, 20, 20), 0o644))
	stamper, err := image.NewStamper(image.StampConfig{Path: stampPath, Scale: 0.13})
	require.NoError(t, err)

	bot := &stubBot{meme: encodePNG(t, 64, 64)}
	disp := &stubDispatcher{result: &card.Result{
		PNG:      encodePNG(t, 128, 192),
		Attempts: []card.Attempt{{Number: 1, Endpoint: "edit"}},
	}}

	svc, err := NewCardService(Options{
		Bot:        bot,
		Sessions:   sessions,
		Dispatcher: disp,
		Validator:  image.NewValidator(image.Limits{}, logger),
		Stamper:    stamper,
		Logger:     logger,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, bot: bot, disp: disp, clock: clock}
}

func commandUpdate(userID, chatID int64, text string) *telegram.Update {
	return &telegram.Update{Message: &telegram.Message{
		From: &telegram.User{ID: userID},
		Chat: telegram.Chat{ID: chatID},
		Text: text,
	}}
}

func photoUpdate(userID, chatID int64) *telegram.Update {
	return &telegram.Update{Message: &telegram.Message{
		From:  &telegram.User{ID: userID},
		Chat:  telegram.Chat{ID: chatID},
		Photo: []telegram.PhotoSize{{FileID: "f1", Width: 640, Height: 480}},
	}}
}

func TestGenerateCommandArms(t *testing.T) {
	f := newFixture(t)

	f.svc.ProcessUpdate(context.Background(), commandUpdate(1, 10, "/generate"))
	assert.Equal(t, msgArmed, f.bot.lastMessage())
}

func TestStartCommandArmsToo(t *testing.T) {
	f := newFixture(t)

	f.svc.ProcessUpdate(context.Background(), commandUpdate(1, 10, "/start"))
	assert.Equal(t, msgArmed, f.bot.lastMessage())
}

func TestPhotoWithoutArmIsRejected(t *testing.T) {
	f := newFixture(t)

	f.svc.ProcessUpdate(context.Background(), photoUpdate(1, 10))
	assert.Equal(t, msgNotArmed, f.bot.lastMessage())
	assert.Empty(t, f.bot.photos)
}

func TestHappyPathDeliversCard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.ProcessUpdate(ctx, commandUpdate(1, 10, "/generate"))
	f.svc.ProcessUpdate(ctx, photoUpdate(1, 10))

	require.Len(t, f.bot.photos, 1)
	photo := f.bot.photos[0]
	assert.Equal(t, int64(10), photo.chatID)
	assert.Equal(t, msgCardCaption, photo.caption)
	require.NotNil(t, photo.markup)
	assert.Equal(t, callbackCreateAnother, photo.markup.InlineKeyboard[0][0].CallbackData)

	// Success starts the cooldown: re-arming now reports the wait.
	f.svc.ProcessUpdate(ctx, commandUpdate(1, 10, "/generate"))
	assert.Equal(t, cooldownMessage(300*time.Second), f.bot.lastMessage())
}

func TestFailedGenerationSkipsCooldown(t *testing.T) {
	f := newFixture(t)
	f.disp.result = nil
	f.disp.err = errors.New("upstream down")
	ctx := context.Background()

	f.svc.ProcessUpdate(ctx, commandUpdate(1, 10, "/generate"))
	f.svc.ProcessUpdate(ctx, photoUpdate(1, 10))

	assert.Empty(t, f.bot.photos)
	assert.Contains(t, f.bot.lastMessage(), "Something went wrong")

	// No cooldown after failure: the user can retry immediately.
	f.svc.ProcessUpdate(ctx, commandUpdate(1, 10, "/generate"))
	assert.Equal(t, msgArmed, f.bot.lastMessage())
}

func TestPhotoDownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.bot.fetchErr = errors.New("file gone")
	ctx := context.Background()

	f.svc.ProcessUpdate(ctx, commandUpdate(1, 10, "/generate"))
	f.svc.ProcessUpdate(ctx, photoUpdate(1, 10))

	assert.Contains(t, f.bot.lastMessage(), "Couldn't download")
	assert.Empty(t, f.bot.photos)
}

func TestInvalidImageRejected(t *testing.T) {
	f := newFixture(t)
	f.bot.meme = []byte("not an image at all")
	ctx := context.Background()

	f.svc.ProcessUpdate(ctx, commandUpdate(1, 10, "/generate"))
	f.svc.ProcessUpdate(ctx, photoUpdate(1, 10))

	assert.Contains(t, f.bot.lastMessage(), "can't be used")
	assert.Empty(t, f.bot.photos)
}

func TestCreateAnotherCallbackRearms(t *testing.T) {
	f := newFixture(t)

	f.svc.ProcessUpdate(context.Background(), &telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb1",
			From:    telegram.User{ID: 1},
			Data:    callbackCreateAnother,
			Message: &telegram.Message{Chat: telegram.Chat{ID: 10}},
		},
	})
	assert.Equal(t, msgArmedAgain, f.bot.lastMessage())
}

func TestCallbackDuringCooldownReportsWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.ProcessUpdate(ctx, commandUpdate(1, 10, "/generate"))
	f.svc.ProcessUpdate(ctx, photoUpdate(1, 10))
	require.Len(t, f.bot.photos, 1)

	f.svc.ProcessUpdate(ctx, &telegram.Update{
		CallbackQuery: &telegram.CallbackQuery{
			ID:      "cb1",
			From:    telegram.User{ID: 1},
			Data:    callbackCreateAnother,
			Message: &telegram.Message{Chat: telegram.Chat{ID: 10}},
		},
	})
	assert.Equal(t, cooldownMessage(300*time.Second), f.bot.lastMessage())
}

func TestPlainTextIsIgnored(t *testing.T) {
	f := newFixture(t)

	f.svc.ProcessUpdate(context.Background(), commandUpdate(1, 10, "hello there"))
	assert.Empty(t, f.bot.messages)
}

func TestCooldownMessageFormat(t *testing.T) {
	assert.Equal(t, "⏳ Please wait 42s before generating another card.",
		cooldownMessage(42*time.Second))
	assert.Equal(t, fmt.Sprintf("⏳ Please wait %ds before generating another card.", 300),
		cooldownMessage(300*time.Second))
}
