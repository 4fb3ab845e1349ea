package queue

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SquadCheck/internal/model"
	"SquadCheck/internal/schedule"
	"SquadCheck/pkg/snowflake"
)

func TestMain(m *testing.M) {
	if err := snowflake.Init(1, 1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func newTestProducer(pub *fakePublisher) *Producer {
	p := NewProducer(pub, "squadcheck.notifications")
	p.now = func() time.Time { return time.Date(2024, 3, 13, 21, 0, 0, 0, time.UTC) }
	return p
}

func decode(t *testing.T, p published) model.ChallengeNotificationMessage {
	t.Helper()
	var msg model.ChallengeNotificationMessage
	require.NoError(t, json.Unmarshal(p.msg.Body, &msg))
	return msg
}

func TestProducer_StrikeMessage(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProducer(pub)

	notice := schedule.Notice{
		RunID:       "run-1",
		GroupID:     "g1",
		ChallengeID: "c1",
		UserID:      "u1",
		PeriodKey:   "2024-03-12",
		Text:        "u1 missed",
	}
	require.NoError(t, p.SendStrikeMessage(context.Background(), notice, 1, 2))

	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, "squadcheck.notifications", sent.exchange)
	assert.Equal(t, "challenge.strike", sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)

	msg := decode(t, sent)
	assert.True(t, strings.HasPrefix(msg.MessageID, "sqck_notify_"))
	assert.Equal(t, sent.msg.MessageId, msg.MessageID)
	assert.Equal(t, model.NotificationKindStrike, msg.Kind)
	assert.Equal(t, "g1", msg.GroupID)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "2024-03-12", msg.PeriodKey)
	assert.Equal(t, "2024-03-13T21:00:00Z", msg.OccurredAt)
	assert.EqualValues(t, 1, msg.Payload["strikes"])
	assert.EqualValues(t, 2, msg.Payload["allowed"])
}

func TestProducer_RoutingKeys(t *testing.T) {
	pub := &fakePublisher{}
	p := newTestProducer(pub)
	ctx := context.Background()
	n := schedule.Notice{GroupID: "g1", ChallengeID: "c1"}

	require.NoError(t, p.SendEliminationMessage(ctx, n))
	require.NoError(t, p.SendWinnerMessage(ctx, n))
	require.NoError(t, p.SendGenericMissedMessage(ctx, n))
	require.NoError(t, p.SendProgressionMessage(ctx, n, 3))

	keys := make([]string, 0, len(pub.sent))
	for _, s := range pub.sent {
		keys = append(keys, s.key)
	}
	assert.Equal(t, []string{"challenge.eliminated", "challenge.winner", "challenge.missed", "challenge.progression"}, keys)

	progression := decode(t, pub.sent[3])
	assert.EqualValues(t, 3, progression.Payload["interval_index"])

	elimination := decode(t, pub.sent[0])
	assert.Nil(t, elimination.Payload)
	assert.NotEqual(t, elimination.MessageID, progression.MessageID)
}

func TestProducer_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	p := newTestProducer(pub)

	err := p.SendWinnerMessage(context.Background(), schedule.Notice{ChallengeID: "c1"})
	assert.EqualError(t, err, "channel closed")
}
