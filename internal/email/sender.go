package email

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("email sender disabled")

// TransferNotice describe la direccion que paso a otro usuario.
type TransferNotice struct {
	Address       string
	CommunityID   string
	TransferredAt time.Time
}

// Sender define la interfaz para avisos de transferencia de direcciones.
type Sender interface {
	SendOwnershipTransferred(ctx context.Context, toEmail string, notice TransferNotice) error
}

type disabledSender struct {
	reason string
}

func NewDisabledSender(reason string) Sender {
	return &disabledSender{reason: reason}
}

func (s *disabledSender) SendOwnershipTransferred(_ context.Context, _ string, _ TransferNotice) error {
	if s.reason == "" {
		return ErrDisabled
	}
	return errors.Join(ErrDisabled, errors.New(s.reason))
}
