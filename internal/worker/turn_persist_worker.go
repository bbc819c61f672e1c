// Package worker drains the turn-persist queue into MySQL so the hot
// conversational path never waits on the database for history durability.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"pdfchat/internal/model"
)

// TurnStore is the persistence sink for consumed turns.
type TurnStore interface {
	Create(ctx context.Context, turn *model.Turn) error
}

type TurnPersistWorker struct {
	conn      *amqp.Connection
	store     TurnStore
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTurnPersistWorker(conn *amqp.Connection, store TurnStore, queueName string, logger *zap.Logger) *TurnPersistWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnPersistWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *TurnPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *TurnPersistWorker) handle(ctx context.Context, d amqp.Delivery) {
	var turn model.Turn
	if err := json.Unmarshal(d.Body, &turn); err != nil {
		w.logger.Error("decode turn payload failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := w.store.Create(ctx, &turn); err != nil {
		w.logger.Error("persist turn failed",
			zap.String("session_id", turn.SessionID), zap.Error(err))
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
}

func (w *TurnPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
