package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"commonwealth/internal/domain"
	"commonwealth/internal/email"
)

// TransferNotifier avisa por email al dueño anterior de una direccion transferida.
type TransferNotifier struct {
	sender email.Sender
	logger *zap.Logger
}

func NewTransferNotifier(logger *zap.Logger, sender email.Sender) *TransferNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferNotifier{sender: sender, logger: logger}
}

func decodeTransfer(msg *nats.Msg) (domain.AddressOwnershipTransferred, error) {
	var ev domain.AddressOwnershipTransferred
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, fmt.Errorf("decode transfer event: %w", err)
	}
	return ev, nil
}

// LockingKey serializa avisos de la misma direccion.
func (n *TransferNotifier) LockingKey(msg *nats.Msg) (string, error) {
	ev, err := decodeTransfer(msg)
	if err != nil {
		return "", err
	}
	return ev.CommunityID + ":" + ev.Address, nil
}

func (n *TransferNotifier) Process(ctx context.Context, msg *nats.Msg) error {
	ev, err := decodeTransfer(msg)
	if err != nil {
		return err
	}
	if ev.OldUserEmail == nil || *ev.OldUserEmail == "" {
		n.logger.Debug("previous owner has no email, skipping", zap.Int64("old_user_id", ev.OldUserID))
		return nil
	}

	err = n.sender.SendOwnershipTransferred(ctx, *ev.OldUserEmail, email.TransferNotice{
		Address:       ev.Address,
		CommunityID:   ev.CommunityID,
		TransferredAt: ev.CreatedAt,
	})
	if errors.Is(err, email.ErrDisabled) {
		n.logger.Warn("email disabled, transfer notice dropped", zap.Int64("old_user_id", ev.OldUserID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("send transfer notice: %w", err)
	}
	n.logger.Info("transfer notice sent",
		zap.Int64("old_user_id", ev.OldUserID),
		zap.Int64("user_id", ev.UserID),
		zap.String("community_id", ev.CommunityID),
	)
	return nil
}
