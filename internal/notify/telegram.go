package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"ltvsync/internal/models"
)

// Telegram posts run outcomes to a chat.
type Telegram struct {
	bot    *tele.Bot
	chat   tele.ChatID
	logger *zap.Logger
}

// NewTelegram creates a send-only bot. apiURL may be empty for the public Bot API.
func NewTelegram(token string, chatID int64, apiURL string, logger *zap.Logger) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chat: tele.ChatID(chatID), logger: logger}, nil
}

func (t *Telegram) RunSucceeded(_ context.Context, run *models.SyncRun) error {
	return t.send(SuccessText(run))
}

func (t *Telegram) RunFailed(_ context.Context, run *models.SyncRun, errMsg string) error {
	return t.send(FailureText(run, errMsg))
}

func (t *Telegram) send(text string) error {
	if _, err := t.bot.Send(t.chat, text, tele.ModeHTML); err != nil {
		t.logger.Error("Failed to send telegram notification", zap.Error(err))
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return html.EscapeString(*s)
}

// SuccessText is the HTML-mode chat message for a successful run.
func SuccessText(run *models.SyncRun) string {
	s := Summarize(run)
	var b strings.Builder
	fmt.Fprintf(&b, "✅ <b>GHL → Meta sync #%d succeeded</b>\n", run.ID)
	fmt.Fprintf(&b, "Contacts: %d processed, %d matched (%.1f%%)\n", run.ContactsProcessed, run.ContactsMatched, s.MatchRate)
	fmt.Fprintf(&b, "Audience: %s (<code>%s</code>)\n", orDash(run.MetaAudienceName), orDash(run.MetaAudienceID))
	fmt.Fprintf(&b, "Lookalike: %s (<code>%s</code>)\n", orDash(run.MetaLookalikeName), orDash(run.MetaLookalikeID))
	fmt.Fprintf(&b, "Top 10%%: %d | Middle 50%%: %d | Bottom 40%%: %d", s.Top10, s.Middle50, s.Bottom40)
	return b.String()
}

// FailureText is the HTML-mode chat message for a failed run.
func FailureText(run *models.SyncRun, errMsg string) string {
	return fmt.Sprintf("❌ <b>GHL → Meta sync #%d failed</b>\nStarted: %s\nContacts retrieved: %d\n<pre>%s</pre>",
		run.ID, run.StartedAt.UTC().Format(stampLayout), run.ContactsProcessed, html.EscapeString(errMsg))
}
