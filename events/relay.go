package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/nats-io/nats.go"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/types"
)

// DefaultSubject is where relayed payment events are published.
const DefaultSubject = "depay.payments"

// MessageBus is anything that can publish raw bytes on a topic.
// *nats.Conn satisfies it.
type MessageBus interface {
	Publish(topic string, data []byte) error
}

var _ MessageBus = (*nats.Conn)(nil)

// ConnectNATS dials a NATS server for use as a MessageBus.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// wireEvent is the JSON form of a PaymentEvent on the message bus.
type wireEvent struct {
	ID             string `json:"id"`
	Payer          string `json:"payer"`
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"`
	TreasuryAmount string `json:"treasuryAmount"`
	USDAmount      string `json:"usdAmount"`
	Memo           string `json:"memo"`
	Hash           string `json:"hash"`
	Asset          string `json:"asset"`
	SettledAt      int64  `json:"settledAt"`
}

// Encode renders ev in its wire format.
func Encode(ev types.PaymentEvent) ([]byte, error) {
	return json.Marshal(wireEvent{
		ID:             ev.ID.String(),
		Payer:          ev.Payer.Hex(),
		Recipient:      ev.Recipient.Hex(),
		Amount:         decString(ev.Amount),
		TreasuryAmount: decString(ev.TreasuryAmount),
		USDAmount:      decString(ev.USDAmount),
		Memo:           ev.Memo,
		Hash:           ev.Hash.Hex(),
		Asset:          ev.Asset.Hex(),
		SettledAt:      ev.SettledAt.Unix(),
	})
}

// Relay forwards every event from sub to bus until ctx is done or sub is
// closed. Publish failures are logged and the event is skipped.
func Relay(ctx context.Context, sub *Subscription, bus MessageBus, subject string, l logger.Logger) {
	if subject == "" {
		subject = DefaultSubject
	}
	if l == nil {
		l = logger.NoopLogger{}
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := Encode(ev)
			if err != nil {
				l.Error("encode payment event", map[string]any{"hash": ev.Hash.Hex(), "error": err.Error()})
				continue
			}
			if err := bus.Publish(subject, data); err != nil {
				l.Error("publish payment event", map[string]any{
					"hash":    ev.Hash.Hex(),
					"subject": subject,
					"error":   err.Error(),
				})
			}
		}
	}
}

func decString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
