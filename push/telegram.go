package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramPrefix marks directory addresses that are Telegram chat ids.
const TelegramPrefix = "tg:"

// TelegramSender is the part of *tgbot.BotAPI the gateway uses.
type TelegramSender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// TelegramGateway delivers to Telegram chats registered as "tg:<chatID>" addresses.
type TelegramGateway struct {
	bot TelegramSender
}

// NewTelegramGateway wraps a bot client.
func NewTelegramGateway(bot TelegramSender) *TelegramGateway {
	return &TelegramGateway{bot: bot}
}

// SendToOne implements Gateway.SendToOne
func (g *TelegramGateway) SendToOne(ctx context.Context, address string, p Payload) error {
	chatID, err := parseChatID(address)
	if err != nil {
		return &SendError{Kind: FailureInvalidAddress, Address: address, Err: err}
	}
	msg := tgbot.NewMessage(chatID, formatTelegramText(p))

	// The bot client has no context support; give up waiting when ctx ends.
	done := make(chan error, 1)
	go func() {
		_, err := g.bot.Send(msg)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return &SendError{Kind: FailureTimeout, Address: address, Err: ctx.Err()}
	case err := <-done:
		if err != nil {
			return &SendError{Kind: classifyTelegram(err), Address: address, Err: err}
		}
		return nil
	}
}

// SendMulticast implements Gateway.SendMulticast; Telegram has no batch call, so this
// loops over the chats.
func (g *TelegramGateway) SendMulticast(ctx context.Context, addresses []string, p Payload) (MulticastResult, error) {
	var result MulticastResult
	for _, addr := range addresses {
		if err := ctx.Err(); err != nil {
			return MulticastResult{}, &SendError{Kind: FailureTimeout, Address: "multicast", Err: err}
		}
		err := g.SendToOne(ctx, addr, p)
		if err != nil {
			result.FailureCount++
		} else {
			result.SuccessCount++
		}
		result.Responses = append(result.Responses, AddressResult{Address: addr, Err: err})
	}
	return result, nil
}

func parseChatID(address string) (int64, error) {
	if !strings.HasPrefix(address, TelegramPrefix) {
		return 0, fmt.Errorf("not a telegram address")
	}
	return strconv.ParseInt(strings.TrimPrefix(address, TelegramPrefix), 10, 64)
}

func classifyTelegram(err error) FailureKind {
	var tgErr *tgbot.Error
	if errors.As(err, &tgErr) {
		switch tgErr.Code {
		case 400:
			return FailureInvalidAddress // chat not found
		case 403:
			return FailureRejected // bot blocked by the user
		}
	}
	return FailureUnreachable
}

func formatTelegramText(p Payload) string {
	var sb strings.Builder
	switch p.Type() {
	case TypeAlert:
		sb.WriteString("⚠️ Alert!\n\n")
	case TypeChat:
		sb.WriteString("💬 New message\n\n")
	case TypeAnnouncement:
		sb.WriteString("📣 Announcement\n\n")
	default:
		sb.WriteString("🔔 Reminder!\n\n")
	}
	sb.WriteString(p.Notification.Title)
	if p.Notification.Body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(p.Notification.Body)
	}
	return sb.String()
}
