package transport

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/stewardops/steward/internal/config"
	"github.com/stewardops/steward/internal/types"
)

// maxMessageLen is Telegram's practical message limit with headroom for the
// truncation marker.
const maxMessageLen = 4000

// Telegram is the production transport: a bot long-polling for updates from
// a small allow-list of chats.
type Telegram struct {
	bot     *bot.Bot
	chats   []int64
	limiter *rate.Limiter
	log     *logrus.Logger

	inbound chan types.InboundMessage
}

// NewTelegram creates the Telegram transport. The bot token comes from config
// or the STEWARD_BOT_TOKEN environment variable (config.Load resolves that).
func NewTelegram(cfg config.TransportConfig, log *logrus.Logger) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if len(cfg.AllowedChats) == 0 {
		return nil, fmt.Errorf("at least one allowed chat is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ratePerSec := cfg.SendRatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 1
	}

	t := &Telegram{
		chats:   cfg.AllowedChats,
		limiter: rate.NewLimiter(rate.Limit(float64(ratePerSec)), ratePerSec),
		log:     log,
		inbound: make(chan types.InboundMessage, 16),
	}

	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(t.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	t.bot = b
	return t, nil
}

// Receive starts the long-poll loop and returns the inbound channel.
func (t *Telegram) Receive(ctx context.Context) (<-chan types.InboundMessage, error) {
	go func() {
		defer close(t.inbound)
		t.bot.Start(ctx) // blocks until ctx is cancelled
	}()
	return t.inbound, nil
}

// handleUpdate filters and converts one Telegram update. Messages from chats
// outside the allow-list are logged and dropped; this is the only
// authentication the bot has.
func (t *Telegram) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message

	if !t.chatAllowed(msg.Chat.ID) {
		t.log.WithField("chat", msg.Chat.ID).Warn("dropping message from unauthorized chat")
		return
	}

	sender := ""
	if msg.From != nil {
		sender = msg.From.Username
		if sender == "" {
			sender = msg.From.FirstName
		}
	}

	in := types.InboundMessage{
		Sender:    sender,
		Chat:      msg.Chat.ID,
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}

	select {
	case t.inbound <- in:
	case <-ctx.Done():
	}
}

// Send delivers text to every allowed chat, rate-limited and truncated to
// Telegram's message size. Markdown is stripped rather than parsed; a
// malformed entity would otherwise make Telegram reject the whole message.
func (t *Telegram) Send(ctx context.Context, text string) error {
	text = truncate(stripMarkdown(text), maxMessageLen)

	var firstErr error
	for _, chat := range t.chats {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chat,
			Text:   text,
		})
		if err != nil {
			t.log.WithField("chat", chat).Errorf("send failed: %v", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to send to chat %d: %w", chat, err)
			}
		}
	}
	return firstErr
}

func (t *Telegram) chatAllowed(id int64) bool {
	for _, c := range t.chats {
		if c == id {
			return true
		}
	}
	return false
}

// stripMarkdown removes the common markdown the agent emits so messages read
// cleanly as plain text.
func stripMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"**", "",
		"__", "",
		"```", "",
		"`", "",
	)
	s = replacer.Replace(s)

	var out []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if strings.HasPrefix(trimmed, "### ") || strings.HasPrefix(trimmed, "## ") || strings.HasPrefix(trimmed, "# ") {
			line = strings.TrimLeft(trimmed, "# ")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character; Telegram rejects invalid UTF-8.
	cut := n - 20
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n[... truncated ...]"
}
