package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const cmdCheck = "check"

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	parts := strings.SplitN(data, ":", 2)
	if len(parts) != 2 {
		return
	}

	action := parts[0]
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"id", id,
		"chat_id", chatID,
		"user_id", cb.From.ID,
	)

	switch action {
	case "unsubscribe":
		title, err := b.engine.UnsubscribeByID(ctx, id)
		if err != nil {
			b.replyError(chatID, err)
			return
		}
		b.reply(chatID, fmt.Sprintf("Unsubscribed from \"%s\". All of its entries were removed.", title))
	case "noop":
		b.reply(chatID, "Cancelled.")
	}
}
