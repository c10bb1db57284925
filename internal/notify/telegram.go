package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Sonnik9/gate-bob-deploy/internal/domain"
)

// Actions are the position controls reachable from status message buttons.
// service.RiskOrderManager implements it.
type Actions interface {
	ModifyTakeProfit(ctx context.Context, key domain.PositionKey, index int, price, pct float64) error
	ModifyStopLoss(ctx context.Context, key domain.PositionKey, price float64) error
	ForceClose(ctx context.Context, key domain.PositionKey, closeType domain.OrderType) error
}

// TelegramChannel posts status messages to one chat, edits them in place and
// turns button presses into position actions.
type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger

	mu       sync.Mutex
	awaiting map[int64]pendingInput // chat -> field waiting for a typed price
}

type pendingInput struct {
	field string // tp1 | tp2 | sl
	key   domain.PositionKey
}

// NewTelegramChannel connects to the Bot API with token.
func NewTelegramChannel(token string, chatID int64, logger *slog.Logger) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	return &TelegramChannel{
		bot:      bot,
		chatID:   chatID,
		logger:   logger.With(slog.String("component", "telegram")),
		awaiting: make(map[int64]pendingInput),
	}, nil
}

// Name returns the channel identifier.
func (t *TelegramChannel) Name() string { return "telegram" }

// Send posts a plain alert.
func (t *TelegramChannel) Send(_ context.Context, title, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s", title, message))
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// Deliver edits the anchored message, or sends a new one when handle is empty.
func (t *TelegramChannel) Deliver(_ context.Context, handle string, msg StatusMessage) (string, error) {
	markup := statusKeyboard(msg.Key, msg.Buttons)
	if handle != "" {
		id, err := strconv.Atoi(handle)
		if err != nil {
			return "", fmt.Errorf("telegram: bad handle %q: %w", handle, err)
		}
		edit := tgbotapi.NewEditMessageTextAndMarkup(t.chatID, id, msg.Text, markup)
		if _, err := t.bot.Send(edit); err != nil && !notModified(err) {
			return handle, fmt.Errorf("telegram: edit %d: %w", id, err)
		}
		return handle, nil
	}
	out := tgbotapi.NewMessage(t.chatID, msg.Text)
	if len(markup.InlineKeyboard) > 0 {
		out.ReplyMarkup = markup
	}
	sent, err := t.bot.Send(out)
	if err != nil {
		return "", fmt.Errorf("telegram: send status: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func notModified(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

// statusKeyboard builds the inline buttons of a status message.
func statusKeyboard(key domain.PositionKey, state domain.ButtonState) tgbotapi.InlineKeyboardMarkup {
	switch state {
	case domain.ButtonsOpened:
		return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Close", callbackData("close", key)),
			tgbotapi.NewInlineKeyboardButtonData("✏️ Modify", callbackData("change", key)),
		))
	case domain.ButtonsClosed:
		return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Position closed", "noop"),
		))
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
}

func callbackData(action string, key domain.PositionKey, extra ...string) string {
	parts := append([]string{action, key.Symbol, string(key.Side)}, extra...)
	return strings.Join(parts, ":")
}

// ---------------------------------------------------------------------------
// Button handling
// ---------------------------------------------------------------------------

// Listen processes button presses and typed prices from the configured chat
// until ctx ends.
func (t *TelegramChannel) Listen(ctx context.Context, actions Actions) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := t.bot.GetUpdatesChan(cfg)
	defer t.bot.StopReceivingUpdates()

	t.logger.InfoContext(ctx, "telegram: listening", slog.Int64("chat_id", t.chatID))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			switch {
			case upd.CallbackQuery != nil:
				t.handleCallback(ctx, actions, upd.CallbackQuery)
			case upd.Message != nil && upd.Message.Text != "":
				t.handleText(ctx, actions, upd.Message)
			}
		}
	}
}

// Action is one parsed button press.
type Action struct {
	Name      string
	Key       domain.PositionKey
	CloseType domain.OrderType
	Confirmed bool
}

// ParseCallback decodes "action:SYMBOL:SIDE[:close_type[:yes|no]]".
func ParseCallback(data string) (Action, error) {
	parts := strings.Split(strings.TrimSpace(data), ":")
	if len(parts) < 3 {
		return Action{}, fmt.Errorf("telegram: callback %q: %w", data, domain.ErrInvalidSignal)
	}
	side, err := domain.ParseSide(parts[2])
	if err != nil {
		return Action{}, err
	}
	a := Action{Name: parts[0], Key: domain.PositionKey{Symbol: parts[1], Side: side}}
	if len(parts) > 3 {
		a.CloseType = domain.ParseOrderType(parts[3])
	}
	if len(parts) > 4 {
		a.Confirmed = parts[4] == "yes"
	}
	return a, nil
}

func (t *TelegramChannel) handleCallback(ctx context.Context, actions Actions, cb *tgbotapi.CallbackQuery) {
	_, _ = t.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != t.chatID || cb.Data == "noop" {
		return
	}
	a, err := ParseCallback(cb.Data)
	if err != nil {
		t.logger.DebugContext(ctx, "telegram: bad callback", slog.String("data", cb.Data))
		return
	}
	s, side := a.Key.Symbol, string(a.Key.Side)

	switch a.Name {
	case "change":
		t.reply(fmt.Sprintf("Choose what to modify for %s (%s):", s, side),
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("TP1", callbackData("tp1", a.Key)),
				tgbotapi.NewInlineKeyboardButtonData("TP2", callbackData("tp2", a.Key)),
				tgbotapi.NewInlineKeyboardButtonData("SL", callbackData("sl", a.Key)),
			)))
	case "tp1", "tp2", "sl":
		t.mu.Lock()
		t.awaiting[t.chatID] = pendingInput{field: a.Name, key: a.Key}
		t.mu.Unlock()
		hint := "Send: <price>"
		if a.Name != "sl" {
			hint = "Send: <price> <percent>"
		}
		t.reply(fmt.Sprintf("✏️ %s %s (%s). %s", strings.ToUpper(a.Name), s, side, hint), nil)
	case "close":
		t.reply(fmt.Sprintf("Choose close type for %s (%s):", s, side),
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("💰 Market", callbackData("close_type", a.Key, "market")),
				tgbotapi.NewInlineKeyboardButtonData("📉 Limit", callbackData("close_type", a.Key, "limit")),
			)))
	case "close_type":
		ct := string(a.CloseType)
		t.reply(fmt.Sprintf("Confirm closing %s (%s) by %s:", s, side, strings.ToUpper(ct)),
			tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", callbackData("close_confirm", a.Key, ct, "yes")),
				tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", callbackData("close_confirm", a.Key, ct, "no")),
			)))
	case "close_confirm":
		if !a.Confirmed {
			t.reply(fmt.Sprintf("❌ Closing %s (%s) cancelled.", s, side), nil)
			return
		}
		if err := actions.ForceClose(ctx, a.Key, a.CloseType); err != nil {
			t.reply(fmt.Sprintf("⚠️ Failed to close %s (%s): %s", s, side, reason(err)), nil)
			return
		}
		t.reply(fmt.Sprintf("✅ %s (%s) closed by %s.", s, side, strings.ToUpper(string(a.CloseType))), nil)
	}
}

func (t *TelegramChannel) handleText(ctx context.Context, actions Actions, msg *tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.ID != t.chatID {
		return
	}
	t.mu.Lock()
	in, ok := t.awaiting[t.chatID]
	delete(t.awaiting, t.chatID)
	t.mu.Unlock()
	if !ok {
		return
	}

	price, pct, err := ParsePriceInput(msg.Text, in.field != "sl")
	if err != nil {
		t.reply("❌ "+err.Error(), nil)
		return
	}
	if in.field == "sl" {
		err = actions.ModifyStopLoss(ctx, in.key, price)
	} else {
		index := 1
		if in.field == "tp2" {
			index = 2
		}
		err = actions.ModifyTakeProfit(ctx, in.key, index, price, pct)
	}
	if err != nil {
		t.reply(fmt.Sprintf("⚠️ %s not changed: %s", strings.ToUpper(in.field), reason(err)), nil)
		return
	}
	t.reply(fmt.Sprintf("✅ %s updated: %s", strings.ToUpper(in.field), strings.TrimSpace(msg.Text)), nil)
}

// ParsePriceInput reads "<price>" or, when withPct is set, "<price> <percent>"
// with the percent in (0, 100]. A comma works as the decimal separator.
func ParsePriceInput(text string, withPct bool) (price, pct float64, err error) {
	fields := strings.Fields(strings.ReplaceAll(text, ",", "."))
	want := 1
	if withPct {
		want = 2
	}
	if len(fields) != want {
		if withPct {
			return 0, 0, errors.New("format: <price> <percent>")
		}
		return 0, 0, errors.New("format: <price>")
	}
	price, err = strconv.ParseFloat(fields[0], 64)
	if err != nil || price <= 0 {
		return 0, 0, fmt.Errorf("bad price %q", fields[0])
	}
	if withPct {
		pct, err = strconv.ParseFloat(fields[1], 64)
		if err != nil || pct <= 0 || pct > 100 {
			return 0, 0, errors.New("percent must be in (0, 100]")
		}
	}
	return price, pct, nil
}

func reason(err error) string {
	var apiReason interface{ Reason() string }
	if errors.As(err, &apiReason) {
		return apiReason.Reason()
	}
	return err.Error()
}

func (t *TelegramChannel) reply(text string, markup any) {
	out := tgbotapi.NewMessage(t.chatID, text)
	if markup != nil {
		out.ReplyMarkup = markup
	}
	if _, err := t.bot.Send(out); err != nil {
		t.logger.Warn("telegram: reply failed", slog.String("error", err.Error()))
	}
}
