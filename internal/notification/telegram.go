package notification

import (
	"context"
	"log"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts alerts to a chat through the Bot API sendMessage
// method, formatted as MarkdownV2.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	poster
}

func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   botToken,
		chatID:  chatID,
		apiBase: telegramAPI,
		poster:  newPoster("telegram"),
	}
}

type sendMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

var levelIcon = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	var sb strings.Builder
	sb.WriteString(levelIcon[alert.Level])
	sb.WriteString(" *" + escapeMarkdown(alert.Title) + "*\n\n")
	sb.WriteString(escapeMarkdown(alert.Message))
	if alert.SessionID != "" {
		sb.WriteString("\n\n_session " + escapeMarkdown(alert.SessionID) + "_")
	}

	url := t.apiBase + "/bot" + t.token + "/sendMessage"
	if err := t.post(ctx, url, sendMessage{ChatID: t.chatID, Text: sb.String(), ParseMode: "MarkdownV2"}); err != nil {
		return err
	}
	log.Printf("[telegram] delivered %s alert to chat %s", alert.Level, t.chatID)
	return nil
}

var markdownEscaper = strings.NewReplacer(
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// escapeMarkdown escapes the MarkdownV2 reserved characters.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }
