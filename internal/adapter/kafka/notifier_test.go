package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/olyamironova/futures-engine/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestEnqueueWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	n := newNotifier(w, "emails", zap.NewNop())

	err := n.Enqueue(context.Background(), domain.Notification{
		EmailType: domain.EmailLiquidationNotification,
		EmailData: map[string]any{"userId": "u-1", "symbol": "BTC/USDT"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "u-1", string(msg.Key))
	assert.Equal(t, "email-type", msg.Headers[0].Key)
	assert.Equal(t, "LiquidationNotification", string(msg.Headers[0].Value))

	var got domain.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, domain.EmailLiquidationNotification, got.EmailType)
	assert.Equal(t, "BTC/USDT", got.EmailData["symbol"])
}

func TestEnqueueWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	n := newNotifier(&fakeWriter{err: boom}, "emails", nil)

	err := n.Enqueue(context.Background(), domain.Notification{EmailType: domain.EmailLiquidationWarning})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
