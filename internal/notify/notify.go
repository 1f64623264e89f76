// Package notify abstracts "send a message to this chat". Private chats
// make the chat id equal to the user id, so the sink is addressed by
// user id throughout.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// FormatOption is one selectable quality button.
type FormatOption struct {
	Label    string
	Callback string // "dl|<format_id>"
}

type Notifier interface {
	Text(userID int64, text string) error
	// Formats presents one button per offered format.
	Formats(userID int64, options []FormatOption) error
	// Ready announces a finished download with a link button.
	Ready(userID int64, originalURL, fetchURL string) error
}

type Telegram struct {
	bot *tgbotapi.BotAPI
}

func NewTelegram(bot *tgbotapi.BotAPI) *Telegram {
	return &Telegram{bot: bot}
}

func (t *Telegram) Text(userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := t.bot.Send(msg)
	return err
}

func (t *Telegram) Formats(userID int64, options []FormatOption) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, o := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(o.Label, o.Callback)))
	}
	msg := tgbotapi.NewMessage(userID, "Choose a quality:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, err := t.bot.Send(msg)
	return err
}

func (t *Telegram) Ready(userID int64, originalURL, fetchURL string) error {
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonURL("🔗 Download video", fetchURL)))
	msg := tgbotapi.NewMessage(userID,
		fmt.Sprintf("✅ Done! <a href=%q>Your video is ready.</a>\nTap the button below:", originalURL))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := t.bot.Send(msg)
	return err
}
