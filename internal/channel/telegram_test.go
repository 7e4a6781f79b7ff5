package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"deskpilot/internal/bus"
	"deskpilot/internal/domain"
	"deskpilot/internal/security"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
	failures []error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

func newTestTelegram(allow ...string) (*Telegram, *fakeBot, *bus.Queue) {
	tg := NewTelegram(TelegramConfig{Token: "test", AllowFrom: allow, Logger: testLogger()})
	bot := &fakeBot{}
	tg.bot = bot
	tg.sleep = func(time.Duration) {}
	q := bus.New(testLogger())
	tg.attach(q)
	return tg, bot, q
}

func textUpdate(userID, chatID int64, text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID, UserName: "alex"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Date:      int(time.Now().Unix()),
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		name, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}}
	}
	return tgbotapi.Update{Message: msg}
}

func TestTelegram_EnqueuesMessages(t *testing.T) {
	tg, bot, q := newTestTelegram()

	tg.handleUpdate(textUpdate(7, 42, "  take a screenshot "))

	reqs := drain(q)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 command, got %d", len(reqs))
	}
	if reqs[0].Text != "take a screenshot" || reqs[0].ChatID != "42" || reqs[0].SenderID != "7" || reqs[0].Source != "telegram" {
		t.Fatalf("unexpected request %+v", reqs[0])
	}
	if len(bot.messages()) != 0 {
		t.Fatal("a lone command needs no queue notice")
	}
}

func TestTelegram_RejectsUnknownUsers(t *testing.T) {
	tg, bot, q := newTestTelegram("7", "not-a-number")

	tg.handleUpdate(textUpdate(8, 42, "list files"))
	if q.Len() != 0 {
		t.Fatal("unauthorized user must not queue commands")
	}
	msgs := bot.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "Unauthorized") {
		t.Fatalf("expected an unauthorized notice, got %+v", msgs)
	}

	tg.handleUpdate(textUpdate(7, 42, "list files"))
	if q.Len() != 1 {
		t.Fatal("allowed user should queue commands")
	}
}

func TestTelegram_Pairing(t *testing.T) {
	pairing := security.NewPairingService(security.PairingConfig{Logger: testLogger()})
	tg := NewTelegram(TelegramConfig{Token: "test", AllowFrom: []string{"7"}, Pairing: pairing, Logger: testLogger()})
	bot := &fakeBot{}
	tg.bot = bot
	tg.sleep = func(time.Duration) {}
	q := bus.New(testLogger())
	tg.attach(q)

	tg.handleUpdate(textUpdate(8, 43, "list files"))
	if q.Len() != 0 {
		t.Fatal("unpaired user must not queue commands")
	}
	code, ok := pairing.PendingCode("telegram", "8")
	if !ok {
		t.Fatal("first message should issue a pairing code")
	}
	msgs := bot.messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "/pair") || strings.Contains(msgs[0].Text, code) {
		t.Fatalf("reply should explain pairing without leaking the code, got %+v", msgs)
	}

	tg.handleUpdate(textUpdate(8, 43, "hello again"))
	if again, _ := pairing.PendingCode("telegram", "8"); again != code {
		t.Fatal("a pending code should be reused")
	}

	tg.handleUpdate(textUpdate(8, 43, "/pair 000000x"))
	if msgs := bot.messages(); !strings.Contains(msgs[len(msgs)-1].Text, "Invalid") {
		t.Fatalf("wrong code should be refused, got %q", msgs[len(msgs)-1].Text)
	}

	tg.handleUpdate(textUpdate(8, 43, "/pair "+code))
	if msgs := bot.messages(); !strings.Contains(msgs[len(msgs)-1].Text, "Paired") {
		t.Fatalf("expected a pairing confirmation, got %q", msgs[len(msgs)-1].Text)
	}

	tg.handleUpdate(textUpdate(8, 43, "list files"))
	tg.handleUpdate(textUpdate(7, 42, "take a screenshot"))
	if q.Len() != 2 {
		t.Fatalf("paired and allowed users should queue commands, got %d", q.Len())
	}
}

func TestTelegram_PairingClosesEmptyAllowList(t *testing.T) {
	pairing := security.NewPairingService(security.PairingConfig{Logger: testLogger()})
	tg := NewTelegram(TelegramConfig{Token: "test", Pairing: pairing, Logger: testLogger()})
	if tg.isAllowed(7) {
		t.Fatal("with pairing on, an empty allow list admits nobody unpaired")
	}
	if !NewTelegram(TelegramConfig{Token: "test", Logger: testLogger()}).isAllowed(7) {
		t.Fatal("without pairing, an empty allow list admits everyone")
	}
}

func TestTelegram_SlashCommands(t *testing.T) {
	tg, bot, q := newTestTelegram()

	tg.handleUpdate(textUpdate(7, 42, "/start"))
	if q.Len() != 0 || len(bot.messages()) != 1 {
		t.Fatal("/start is answered locally")
	}

	tg.handleUpdate(textUpdate(7, 42, "/history 5"))
	reqs := drain(q)
	if len(reqs) != 1 || reqs[0].Text != "/history 5" {
		t.Fatalf("other slash commands are forwarded, got %+v", reqs)
	}

	id := q.Enqueue(domain.CommandRequest{Source: "telegram", ChatID: "42", Text: "list files"})
	tg.handleUpdate(textUpdate(7, 42, "/cancel "+id))
	if q.Len() != 0 {
		t.Fatal("/cancel should drop the pending command")
	}
	msgs := bot.messages()
	if last := msgs[len(msgs)-1].Text; last != "Cancelled "+id+"." {
		t.Fatalf("unexpected cancel reply %q", last)
	}
}

func TestTelegram_RoutesReplies(t *testing.T) {
	_, bot, q := newTestTelegram()

	q.SendReply(domain.Reply{Channel: "telegram", ChatID: "42", Content: "done"})
	q.SendReply(domain.Reply{Channel: "telegram", ChatID: "oops", Content: "lost"})

	msgs := bot.messages()
	if len(msgs) != 1 || msgs[0].ChatID != 42 || msgs[0].Text != "done" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[0].ParseMode != tgbotapi.ModeMarkdown {
		t.Fatalf("first attempt should use markdown, got %q", msgs[0].ParseMode)
	}
}

func TestTelegram_PlainTextFallback(t *testing.T) {
	tg, bot, _ := newTestTelegram()
	bot.failures = []error{errors.New("Bad Request: can't parse entities")}

	tg.sendChunk(42, "a_b*c")

	msgs := bot.messages()
	if len(msgs) != 2 {
		t.Fatalf("expected a retry, got %d sends", len(msgs))
	}
	if msgs[1].ParseMode != "" {
		t.Fatalf("retry should be plain text, got %q", msgs[1].ParseMode)
	}
}

func TestTelegram_GivesUpAfterRetries(t *testing.T) {
	tg, bot, _ := newTestTelegram()
	fail := errors.New("connection reset")
	bot.failures = []error{fail, fail, fail, fail, fail}

	tg.sendChunk(42, "hello")
	if n := len(bot.messages()); n != telegramMaxSendRetries+1 {
		t.Fatalf("expected %d attempts, got %d", telegramMaxSendRetries+1, n)
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected split %q", got)
	}

	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitMessage(text, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != "\n"+strings.Repeat("b", 8) {
		t.Fatalf("should cut at the newline, got %q", got)
	}

	got = splitMessage(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[0]) != 10 || len(got[2]) != 5 {
		t.Fatalf("should hard-cut without newlines, got %q", got)
	}
}

func TestTelegram_Confirm(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{callbackYes, true},
		{callbackNo, false},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			tg, bot, _ := newTestTelegram()
			ctx := domain.WithRequest(context.Background(), domain.CommandRequest{Source: "telegram", ChatID: "42"})

			done := make(chan bool, 1)
			go func() {
				ok, err := tg.Confirm(ctx, "Run run_command?")
				if err != nil {
					t.Errorf("Confirm: %v", err)
				}
				done <- ok
			}()

			deadline := time.Now().Add(5 * time.Second)
			for len(bot.messages()) == 0 {
				if time.Now().After(deadline) {
					t.Fatal("confirmation was never sent")
				}
				time.Sleep(time.Millisecond)
			}
			if bot.messages()[0].ReplyMarkup == nil {
				t.Fatal("confirmation needs an inline keyboard")
			}

			tg.handleUpdate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
				ID:      "cb1",
				From:    &tgbotapi.User{ID: 7},
				Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: 42}},
				Data:    tt.data,
			}})

			select {
			case got := <-done:
				if got != tt.want {
					t.Errorf("Confirm = %v, want %v", got, tt.want)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Confirm did not return")
			}
		})
	}
}

func TestTelegram_ConfirmNeedsRequest(t *testing.T) {
	tg, _, _ := newTestTelegram()
	if _, err := tg.Confirm(context.Background(), "Run it?"); err == nil {
		t.Fatal("expected an error without a request in the context")
	}
}
