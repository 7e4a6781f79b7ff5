package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"deskpilot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3

	callbackYes = "confirm_yes"
	callbackNo  = "confirm_no"

	pairingLookupTimeout = 5 * time.Second
)

// Pairer admits users outside the allow list by one-time code.
// *security.PairingService implements it.
type Pairer interface {
	IsPaired(ctx context.Context, channel, userID string) (bool, error)
	GenerateCode(channel, userID string) string
	PendingCode(channel, userID string) (string, bool)
	VerifyCode(ctx context.Context, channel, userID, code string) (bool, error)
}

// botAPI is the part of *tgbotapi.BotAPI the channel uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Telegram implements domain.Channel for a Telegram bot. Every text message
// from an allowed user is queued as a command; replies go back to its chat.
type Telegram struct {
	token     string
	allowFrom []int64 // empty allows everyone unless pairing is on
	parseMode string
	pairing   Pairer

	bot      botAPI
	username string
	queue    domain.CommandQueue
	logger   *slog.Logger
	sleep    func(time.Duration)

	pendingMu sync.Mutex
	pending   map[int64]chan bool
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user ids
	ParseMode string
	Pairing   Pairer // nil disables pairing
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		pairing:   cfg.Pairing,
		logger:    cfg.Logger,
		sleep:     time.Sleep,
		pending:   make(map[int64]chan bool),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and long-polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, queue domain.CommandQueue) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.username = bot.Self.UserName
	t.attach(queue)
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

func (t *Telegram) attach(queue domain.CommandQueue) {
	t.queue = queue
	queue.OnReply(t.Name(), func(reply domain.Reply) {
		chatID, err := strconv.ParseInt(reply.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat id for telegram reply", "chat_id", reply.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, reply.Content)
	})
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(_ context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

// Confirm asks the chat of the command being executed with an inline
// keyboard and waits for the button press or ctx.
func (t *Telegram) Confirm(ctx context.Context, question string) (bool, error) {
	req, ok := domain.RequestFrom(ctx)
	if !ok {
		return false, fmt.Errorf("no telegram chat to ask")
	}
	chatID, err := strconv.ParseInt(req.ChatID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("invalid chat id %q: %w", req.ChatID, err)
	}

	ch := make(chan bool, 1)
	t.pendingMu.Lock()
	t.pending[chatID] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, chatID)
		t.pendingMu.Unlock()
	}()

	msg := tgbotapi.NewMessage(chatID, question)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Run", callbackYes),
			tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", callbackNo),
		),
	)
	if _, err := t.bot.Send(msg); err != nil {
		return false, fmt.Errorf("send confirmation: %w", err)
	}

	select {
	case yes := <-ch:
		return yes, nil
	case <-ctx.Done():
		t.sendMessage(chatID, "⏰ No answer; the command was not run.")
		return false, ctx.Err()
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	text := strings.TrimSpace(update.Message.Text)

	if !t.isAllowed(userID) {
		t.handleStranger(update.Message, text)
		return
	}

	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		switch update.Message.Command() {
		case "start":
			t.sendMessage(chatID, "👋 Hi! Send me a desktop command such as \"take a screenshot\" or \"list files in ~/Downloads\".\n\nType /help for more examples.")
			return
		case "cancel":
			t.sendMessage(chatID, cancelMessage(t.queue, strings.TrimSpace(update.Message.CommandArguments())))
			return
		case "pair":
			t.sendMessage(chatID, "✅ You are already authorized.")
			return
		}
		// The remaining slash commands are answered by the orchestrator.
		text = "/" + update.Message.Command() + strings.TrimRight(" "+update.Message.CommandArguments(), " ")
	}

	t.logger.Info("telegram command received", "user_id", userID, "chat_id", chatID, "text_len", len(text))
	_, _ = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	id := t.queue.Enqueue(domain.CommandRequest{
		Source:    t.Name(),
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Text:      text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
	if id == "" {
		t.sendMessage(chatID, "DeskPilot is shutting down; command not accepted.")
		return
	}
	if depth := t.queue.Len(); depth > 1 {
		t.sendMessage(chatID, fmt.Sprintf("Queued as %s (%d ahead). Send /cancel %s to drop it.", id, depth-1, id))
	}
}

func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	_, _ = t.bot.Request(tgbotapi.NewCallback(cq.ID, ""))

	if cq.From != nil && !t.isAllowed(cq.From.ID) {
		return
	}

	t.pendingMu.Lock()
	ch, ok := t.pending[chatID]
	t.pendingMu.Unlock()
	if !ok {
		return
	}

	switch cq.Data {
	case callbackYes:
		ch <- true
	case callbackNo:
		ch <- false
	default:
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.bot.Request(edit)
}

// isAllowed admits users on the allow list, then paired users. Without
// pairing an empty allow list admits everyone.
func (t *Telegram) isAllowed(userID int64) bool {
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	if t.pairing == nil {
		return len(t.allowFrom) == 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), pairingLookupTimeout)
	defer cancel()
	paired, err := t.pairing.IsPaired(ctx, t.Name(), strconv.FormatInt(userID, 10))
	if err != nil {
		t.logger.Error("pairing lookup failed", "user_id", userID, "err", err)
		return false
	}
	return paired
}

// handleStranger answers a user who is neither allowed nor paired. With
// pairing on, the first message issues a code that is logged on the host
// and the user pairs by sending it back with /pair.
func (t *Telegram) handleStranger(msg *tgbotapi.Message, text string) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	uid := strconv.FormatInt(userID, 10)

	if t.pairing == nil {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", msg.From.UserName)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user id is not in the allow list.")
		return
	}

	if msg.IsCommand() && msg.Command() == "pair" {
		code := strings.TrimSpace(msg.CommandArguments())
		ctx, cancel := context.WithTimeout(context.Background(), pairingLookupTimeout)
		defer cancel()
		ok, err := t.pairing.VerifyCode(ctx, t.Name(), uid, code)
		switch {
		case err != nil:
			t.logger.Error("pairing failed", "user_id", userID, "err", err)
			t.sendMessage(chatID, "❌ Pairing failed. Try again later.")
		case ok:
			t.sendMessage(chatID, "✅ Paired. You can now send desktop commands.")
		default:
			t.logger.Warn("invalid pairing code", "user_id", userID, "username", msg.From.UserName)
			t.sendMessage(chatID, "❌ Invalid or expired code.")
		}
		return
	}

	code, pending := t.pairing.PendingCode(t.Name(), uid)
	if !pending {
		code = t.pairing.GenerateCode(t.Name(), uid)
	}
	t.logger.Warn("telegram pairing requested", "user_id", userID, "username", msg.From.UserName, "code", code, "text_len", len(text))
	t.sendMessage(chatID, "🔐 This bot needs pairing. Ask the owner for the code shown in the DeskPilot log, then send /pair <code>.")
}

// sendMessage splits text at line breaks to stay under Telegram's limit.
func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(chatID, chunk)
	}
}

func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// sendChunk tries the configured parse mode first, falls back to plain text
// on a parse error and backs off on rate limits and transient failures.
func (t *Telegram) sendChunk(chatID int64, text string) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off", "retry_after", retryAfter, "attempt", attempt+1)
			t.sleep(retryAfter)
			continue
		}

		if msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			continue
		}

		if attempt < telegramMaxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			t.sleep(backoff)
			continue
		}
		t.logger.Error("telegram send failed after retries", "err", err, "attempts", telegramMaxSendRetries+1)
	}
}
