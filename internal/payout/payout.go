// Package payout hands won games to the external payout worker over NATS
// request/reply. The worker owns the actual Lightning transport.
package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dice_service/internal/game"
	"dice_service/internal/logger"

	"github.com/nats-io/nats.go"
)

var (
	ErrRejected   = errors.New("payout rejected by worker")
	ErrBadReply   = errors.New("malformed payout reply")
	ErrNoResponse = errors.New("no payout worker responded")
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

type Request struct {
	GameID     string `json:"game_id"`
	Method     string `json:"method"`
	AmountSats int64  `json:"amount_sats"`
	PlayerID   string `json:"player,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

type Reply struct {
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Requester is the part of *nats.Conn the sender needs.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

type NatsSender struct {
	conn    Requester
	subject string
}

func NewNatsSender(conn Requester, subject string) *NatsSender {
	return &NatsSender{conn: conn, subject: subject}
}

func NewRequest(g *game.Game) Request {
	return Request{
		GameID:     g.GameID,
		Method:     g.PayoutMethod,
		AmountSats: g.PayoutSats,
		PlayerID:   g.PlayerID,
		Timestamp:  g.CreatedAt.Unix(),
	}
}

// Send asks the worker to pay g out. The game id travels as the NATS
// message id so a redelivered request is paid at most once.
func (s *NatsSender) Send(ctx context.Context, g *game.Game) error {
	data, err := json.Marshal(NewRequest(g))
	if err != nil {
		return err
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, g.GameID)

	resp, err := s.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return ErrNoResponse
		}
		return fmt.Errorf("failed to request payout: %w", err)
	}

	var reply Reply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		return fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	switch reply.Status {
	case StatusSent:
		logger.Info("Payout sent", "game_id", g.GameID, "amount_sats", g.PayoutSats, "reference", reply.Reference)
		return nil
	case StatusFailed:
		return fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrBadReply, reply.Status)
	}
}

func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	opts := []nats.Option{
		nats.Name("dice-payouts"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("Disconnected from NATS", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
	return nats.Connect(url, opts...)
}
