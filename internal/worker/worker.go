package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Config agrupa la configuracion del pool de workers sobre una pull subscription.
type Config struct {
	StreamName     string
	Subject        string
	DurableName    string
	BatchSize      int
	MaxConcurrent  int
	MaxWait        time.Duration
	MaxDeliver     int
	ProcessTimeout time.Duration
	Handler        Handler
	JetStream      nats.JetStreamContext
}

// Handler procesa un mensaje. LockingKey serializa mensajes del mismo recurso; "" no bloquea.
type Handler interface {
	Process(ctx context.Context, msg *nats.Msg) error
	LockingKey(msg *nats.Msg) (string, error)
}

// acker es la parte de *nats.Msg que confirma o rechaza la entrega.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
}

// PullSubscriber reparte los mensajes de una pull subscription entre un pool acotado de goroutines.
type PullSubscriber struct {
	config     Config
	sub        *nats.Subscription
	logger     *zap.Logger
	keyLocks   map[string]*sync.Mutex
	keyLocksMu sync.Mutex
	semaphore  chan struct{}
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	done       chan struct{}
}

func applyDefaults(cfg Config) Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 25
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 30 * time.Second
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = time.Minute
	}
	return cfg
}

func newPullSubscriber(logger *zap.Logger, cfg Config) *PullSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = applyDefaults(cfg)
	return &PullSubscriber{
		config:    cfg,
		logger:    logger,
		keyLocks:  make(map[string]*sync.Mutex),
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start crea el consumer durable y arranca el dispatcher.
func Start(ctx context.Context, logger *zap.Logger, cfg Config) (*PullSubscriber, error) {
	ps := newPullSubscriber(logger, cfg)
	cfg = ps.config

	_, err := cfg.JetStream.AddConsumer(cfg.StreamName, &nats.ConsumerConfig{
		Durable:       cfg.DurableName,
		AckPolicy:     nats.AckExplicitPolicy,
		FilterSubject: cfg.Subject,
		MaxDeliver:    cfg.MaxDeliver,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return nil, fmt.Errorf("create consumer for subject %s: %w", cfg.Subject, err)
	}

	sub, err := cfg.JetStream.PullSubscribe(cfg.Subject, cfg.DurableName, nats.BindStream(cfg.StreamName))
	if err != nil {
		return nil, fmt.Errorf("pull subscribe to subject %s: %w", cfg.Subject, err)
	}
	ps.sub = sub

	ctx, cancel := context.WithCancel(ctx)
	ps.cancel = cancel
	ps.done = make(chan struct{})
	go ps.dispatch(ctx)

	ps.logger.Info("pull subscriber started",
		zap.String("subject", cfg.Subject),
		zap.String("durable", cfg.DurableName),
		zap.Int("max_concurrent", cfg.MaxConcurrent),
	)
	return ps, nil
}

func (ps *PullSubscriber) dispatch(ctx context.Context) {
	defer close(ps.done)
	for {
		if ctx.Err() != nil {
			return
		}
		fetchCtx, cancel := context.WithTimeout(ctx, ps.config.MaxWait)
		msgs, err := ps.sub.Fetch(ps.config.BatchSize, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
				return
			}
			ps.logger.Error("fetch failed", zap.String("subject", ps.config.Subject), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			select {
			case ps.semaphore <- struct{}{}:
			case <-ctx.Done():
				_ = msg.Nak()
				continue
			}
			ps.wg.Add(1)
			go func(m *nats.Msg) {
				defer ps.wg.Done()
				defer func() { <-ps.semaphore }()
				ps.handle(ctx, m, m)
			}(msg)
		}
	}
}

func (ps *PullSubscriber) handle(ctx context.Context, msg *nats.Msg, ack acker) {
	key, err := ps.config.Handler.LockingKey(msg)
	if err != nil {
		ps.logger.Error("locking key failed, naking", zap.String("subject", msg.Subject), zap.Error(err))
		_ = ack.NakWithDelay(5 * time.Second)
		return
	}
	if key != "" {
		mu := ps.keyMutex(key)
		mu.Lock()
		defer mu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ps.config.ProcessTimeout)
	defer cancel()

	if err := ps.config.Handler.Process(ctx, msg); err != nil {
		ps.logger.Warn("handler failed, naking", zap.String("subject", msg.Subject), zap.String("key", key), zap.Error(err))
		_ = ack.NakWithDelay(15 * time.Second)
		return
	}
	if err := ack.Ack(); err != nil {
		ps.logger.Error("ack failed", zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	ps.logger.Debug("message processed", zap.String("subject", msg.Subject), zap.String("key", key))
}

func (ps *PullSubscriber) keyMutex(key string) *sync.Mutex {
	ps.keyLocksMu.Lock()
	defer ps.keyLocksMu.Unlock()
	mu, ok := ps.keyLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		ps.keyLocks[key] = mu
	}
	return mu
}

// Stop deja de pedir mensajes y espera a los que estan en curso.
func (ps *PullSubscriber) Stop() {
	if ps.cancel == nil {
		return
	}
	ps.cancel()
	<-ps.done
	ps.wg.Wait()
	if err := ps.sub.Unsubscribe(); err != nil {
		ps.logger.Warn("unsubscribe failed", zap.String("subject", ps.config.Subject), zap.Error(err))
	}
	ps.logger.Info("pull subscriber stopped", zap.String("subject", ps.config.Subject))
	ps.cancel = nil
}
