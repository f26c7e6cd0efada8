package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"chatpdf/internal/model"
	"chatpdf/internal/platform/rabbitmq"
)

// SnapshotSaver persists one complete chat history snapshot.
type SnapshotSaver interface {
	SaveSnapshot(ctx context.Context, snapshot model.HistorySnapshot) error
}

// DirtyClearer is optional; when set the dirty marker is dropped right after
// a successful write instead of waiting for it to expire.
type DirtyClearer interface {
	ClearDirty(ctx context.Context, sessionID string) error
}

type HistoryPersistWorker struct {
	conn      *amqp.Connection
	saver     SnapshotSaver
	dirty     DirtyClearer
	queueName string
	logger    zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHistoryPersistWorker(conn *amqp.Connection, saver SnapshotSaver, dirty DirtyClearer, queueName string, logger zerolog.Logger) *HistoryPersistWorker {
	return &HistoryPersistWorker{
		conn:      conn,
		saver:     saver,
		dirty:     dirty,
		queueName: queueName,
		logger:    logger.With().Str("component", "history_worker").Str("queue", queueName).Logger(),
	}
}

func (w *HistoryPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	// snapshots of one session must not be applied out of order
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

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
					w.logger.Warn().Msg("delivery channel closed")
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	w.logger.Info().Msg("history persist worker started")
	return nil
}

func (w *HistoryPersistWorker) handle(ctx context.Context, d amqp.Delivery) {
	var snapshot model.HistorySnapshot
	if err := json.Unmarshal(d.Body, &snapshot); err != nil {
		w.logger.Error().Err(err).Msg("decode snapshot failed")
		_ = d.Nack(false, false)
		return
	}

	if err := w.saver.SaveSnapshot(ctx, snapshot); err != nil {
		w.logger.Error().Err(err).Str("session_id", snapshot.SessionID).Msg("persist snapshot failed")
		// a redelivered message gets one more try before it is dropped
		_ = d.Nack(false, !d.Redelivered)
		return
	}

	if w.dirty != nil {
		if err := w.dirty.ClearDirty(ctx, snapshot.SessionID); err != nil {
			w.logger.Warn().Err(err).Str("session_id", snapshot.SessionID).Msg("clear dirty marker failed")
		}
	}
	_ = d.Ack(false)
	w.logger.Debug().Str("session_id", snapshot.SessionID).Int("messages", len(snapshot.Messages)).Msg("snapshot persisted")
}

func (w *HistoryPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
