package relay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"commonwealth/internal/repository"
)

// Publisher es la parte de nats.JetStreamContext que usa el relay.
type Publisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// StreamManager crea el stream si no existe.
type StreamManager interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

type Config struct {
	SubjectPrefix string
	BatchSize     int
	Interval      time.Duration
}

// Relay publica el outbox en JetStream con Nats-Msg-Id = event_id.
type Relay struct {
	db     repository.Database
	js     Publisher
	cfg    Config
	logger *zap.Logger
}

func New(logger *zap.Logger, db repository.Database, js Publisher, cfg Config) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "commonwealth.events"
	}
	return &Relay{db: db, js: js, cfg: cfg, logger: logger}
}

// Subject arma el subject de un evento.
func Subject(prefix, eventName string) string {
	return prefix + "." + eventName
}

// EnsureStream crea el stream que captura todos los subjects del prefijo.
func EnsureStream(js StreamManager, name, prefix string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", name, err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{prefix + ".>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", name, err)
	}
	return nil
}

// RelayOnce publica un lote en orden de event_id. Ante el primer fallo de publicacion se detiene
// y solo marca lo ya publicado, asi el resto se reintenta en orden.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var relayed int
	err := r.db.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		events, err := store.Outbox().ClaimBatch(ctx, r.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}

		ids := make([]int64, 0, len(events))
		for _, ev := range events {
			msg := nats.NewMsg(Subject(r.cfg.SubjectPrefix, ev.Name))
			msg.Data = ev.Payload
			msg.Header.Set(nats.MsgIdHdr, strconv.FormatInt(ev.ID, 10))
			if _, err := r.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
				r.logger.Warn("outbox publish failed",
					zap.Int64("event_id", ev.ID),
					zap.String("event_name", ev.Name),
					zap.Error(err),
				)
				break
			}
			ids = append(ids, ev.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := store.Outbox().MarkRelayed(ctx, ids); err != nil {
			return fmt.Errorf("mark relayed: %w", err)
		}
		relayed = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return relayed, nil
}

// Run vacia el outbox en cada tick hasta que el contexto se cancela.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", zap.Duration("interval", r.cfg.Interval), zap.Int("batch_size", r.cfg.BatchSize))
	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Relay) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := r.RelayOnce(ctx)
		if err != nil {
			r.logger.Error("outbox relay failed", zap.Error(err))
			return
		}
		if n > 0 {
			r.logger.Debug("outbox batch relayed", zap.Int("events", n))
		}
		if n < r.cfg.BatchSize {
			return
		}
	}
}
