package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// pollTimeout is the long-poll timeout in seconds.
	pollTimeout = 60

	// FileSizeLimit is the largest file the Bot API lets a bot download.
	FileSizeLimit = 20 << 20
)

// Telegram adapts the Bot API to the Dispatcher: it converts updates to
// Messages, sends replies and downloads attachments.
type Telegram struct {
	api          *tgbotapi.BotAPI
	client       *http.Client
	fileEndpoint string
	logger       *log.Logger

	inflight sync.WaitGroup
}

// TelegramOptions overrides the public Bot API endpoints. Zero values use
// the defaults.
type TelegramOptions struct {
	APIEndpoint  string
	FileEndpoint string
	Client       *http.Client
}

// NewTelegram authenticates with token and returns the adapter.
func NewTelegram(token string, opts TelegramOptions, logger *log.Logger) (*Telegram, error) {
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	if opts.FileEndpoint == "" {
		opts.FileEndpoint = tgbotapi.FileEndpoint
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	logger = logger.With("component", "telegram")
	if err := tgbotapi.SetLogger(botLogger{logger}); err != nil {
		return nil, err
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, opts.APIEndpoint, opts.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	logger.Info("authorized", "username", api.Self.UserName)

	return &Telegram{
		api:          api,
		client:       opts.Client,
		fileEndpoint: opts.FileEndpoint,
		logger:       logger,
	}, nil
}

// Username returns the bot's account name
func (t *Telegram) Username() string {
	return t.api.Self.UserName
}

// Reply sends text to chatID as a reply to message replyTo.
func (t *Telegram) Reply(ctx context.Context, chatID int64, replyTo int, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyToMessageID = replyTo
	if _, err := t.api.Send(m); err != nil {
		return fmt.Errorf("%w: send message: %w", ErrUpstream, err)
	}
	return nil
}

// Fetch downloads the attachment from Telegram's file servers.
func (t *Telegram) Fetch(ctx context.Context, file Attachment) (io.ReadCloser, error) {
	if file.Size > FileSizeLimit {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, file.Size)
	}
	f, err := t.api.GetFile(tgbotapi.FileConfig{FileID: file.PlatformID})
	if err != nil {
		// sizes are not always reported, so the API may be the first to refuse
		if strings.Contains(err.Error(), "file is too big") {
			return nil, fmt.Errorf("%w: %w", ErrTooLarge, err)
		}
		return nil, fmt.Errorf("get file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(t.fileEndpoint, t.api.Token, f.FilePath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download file: unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// Run long-polls for updates until ctx is cancelled, handing each one to d
// on its own goroutine. It returns after in-flight handlers finish.
func (t *Telegram) Run(ctx context.Context, d *Dispatcher) error {
	// a leftover webhook makes getUpdates fail
	if _, err := t.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to remove webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := t.api.GetUpdatesChan(u)
	defer t.Wait()

	t.logger.Info("polling for updates")
	for {
		select {
		case <-ctx.Done():
			t.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.dispatch(ctx, d, update)
		}
	}
}

// SetWebhook registers url as the update destination
func (t *Telegram) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if _, err := t.api.Request(wh); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	t.logger.Info("webhook registered", "url", url)
	return nil
}

// WebhookHandler serves POST /telegram/webhook. Handlers run under ctx, not
// the request context, since Telegram only waits for the acknowledgement.
func (t *Telegram) WebhookHandler(ctx context.Context, d *Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		update, err := t.api.HandleUpdate(r)
		if err != nil {
			t.logger.Warn("rejected webhook payload", "err", err)
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}
		t.dispatch(ctx, d, *update)
		w.WriteHeader(http.StatusOK)
	})
}

// Wait blocks until every dispatched update has been handled
func (t *Telegram) Wait() {
	t.inflight.Wait()
}

func (t *Telegram) dispatch(ctx context.Context, d *Dispatcher, update tgbotapi.Update) {
	msg, ok := convertUpdate(update)
	if !ok {
		return
	}
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		d.Handle(ctx, msg)
	}()
}

// convertUpdate extracts the message of an update, if it carries one.
func convertUpdate(update tgbotapi.Update) (Message, bool) {
	m := update.Message
	if m == nil || m.Chat == nil || m.From == nil {
		return Message{}, false
	}

	msg := Message{
		ChatID:     m.Chat.ID,
		MessageID:  m.MessageID,
		SenderID:   strconv.FormatInt(m.From.ID, 10),
		SenderName: m.From.FirstName,
		Text:       m.Text,
		File:       attachmentOf(m),
	}
	if msg.File == nil && msg.Text == "" {
		return Message{}, false
	}
	return msg, true
}

func attachmentOf(m *tgbotapi.Message) *Attachment {
	switch {
	case m.Document != nil:
		return &Attachment{PlatformID: m.Document.FileID, Name: m.Document.FileName, Size: int64(m.Document.FileSize)}
	case m.Video != nil:
		return &Attachment{PlatformID: m.Video.FileID, Name: m.Video.FileName, Size: int64(m.Video.FileSize)}
	case m.Audio != nil:
		return &Attachment{PlatformID: m.Audio.FileID, Name: m.Audio.FileName, Size: int64(m.Audio.FileSize)}
	case m.Animation != nil:
		return &Attachment{PlatformID: m.Animation.FileID, Name: m.Animation.FileName, Size: int64(m.Animation.FileSize)}
	case m.Voice != nil:
		return &Attachment{PlatformID: m.Voice.FileID, Size: int64(m.Voice.FileSize)}
	case m.VideoNote != nil:
		return &Attachment{PlatformID: m.VideoNote.FileID, Size: int64(m.VideoNote.FileSize)}
	case len(m.Photo) > 0:
		// sizes are ordered smallest first
		p := m.Photo[len(m.Photo)-1]
		return &Attachment{PlatformID: p.FileID, Size: int64(p.FileSize)}
	}
	return nil
}

// botLogger routes the Bot API library's own messages into our logger.
type botLogger struct {
	l *log.Logger
}

func (b botLogger) Println(v ...interface{}) {
	b.l.Warn(fmt.Sprint(v...))
}

func (b botLogger) Printf(format string, v ...interface{}) {
	b.l.Warn(fmt.Sprintf(format, v...))
}
