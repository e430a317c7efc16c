package notify

import (
	"context"
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Oat2Milk/immortal-legacy/internal/payments"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts purchase notices to an admin chat.
type Telegram struct {
	bot    sender
	chatID int64
}

// NewTelegram connects the bot. It returns nil when no token or chat is set.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) PurchaseFulfilled(_ context.Context, p payments.Purchase) {
	msg := tgbotapi.NewMessage(t.chatID, purchaseText(p))
	if _, err := t.bot.Send(msg); err != nil {
		log.Printf("notify: telegram send failed: %v", err)
	}
}

func purchaseText(p payments.Purchase) string {
	name := p.PackageID
	if pkg, ok := payments.LookupPackage(p.PackageID); ok {
		name = pkg.Name
	}
	return fmt.Sprintf("💎 Purchase credited\nPackage: %s\nAmethyst: %d\nAmount: $%d.%02d\nAccount: %s\nSession: %s",
		name, p.Amethyst, p.AmountCents/100, p.AmountCents%100, p.AccountID, p.SessionID)
}
