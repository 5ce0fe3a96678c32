package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/joripage/bess-exchange/pkg/distributor"
	"github.com/joripage/bess-exchange/pkg/signing"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMsg struct {
	acks, naks int
}

func (m *fakeMsg) Ack(...nats.AckOpt) error { m.acks++; return nil }
func (m *fakeMsg) Nak(...nats.AckOpt) error { m.naks++; return nil }

type failingJournal struct{}

func (failingJournal) Append(context.Context, *JournalEntry) error {
	return errors.New("connection refused")
}

func signedRecord(t *testing.T, eventID string) []byte {
	t.Helper()
	ring := signing.NewKeyRing()
	require.NoError(t, ring.Rotate("k1", "journal test key"))
	meta, data, err := signing.NewSigner(ring).Sign(map[string]any{"id": "T-1", "price": "55"})
	require.NoError(t, err)

	raw, err := json.Marshal(distributor.Record{
		EventID:  eventID,
		Channel:  distributor.TradesChannel(),
		Kind:     distributor.KindTrades,
		Envelope: distributor.Envelope{Meta: distributor.Meta{Meta: meta}, Data: data},
	})
	require.NoError(t, err)
	return raw
}

func newTestWorker(j Journal) *Worker {
	w := NewWorker(Config{}, j, nil)
	w.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return w
}

func TestHandleStoresAndAcks(t *testing.T) {
	j := NewMemoryJournal()
	w := newTestWorker(j)
	msg := &fakeMsg{}

	w.handle(context.Background(), signedRecord(t, "trade-T-1"), msg)

	assert.Equal(t, 1, msg.acks)
	entries := j.Entries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "trade-T-1", e.EventID)
	assert.Equal(t, "trades", e.Channel)
	assert.Equal(t, "trades", e.Kind)
	assert.Equal(t, "k1", e.KeyID)
	assert.Positive(t, e.TS)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), e.ReceivedAt)

	var env distributor.Envelope
	require.NoError(t, json.Unmarshal([]byte(e.Envelope), &env))
	assert.JSONEq(t, `{"id":"T-1","price":"55"}`, string(env.Data))
}

func TestHandleIsIdempotent(t *testing.T) {
	j := NewMemoryJournal()
	w := newTestWorker(j)
	raw := signedRecord(t, "dup")

	first, second := &fakeMsg{}, &fakeMsg{}
	w.handle(context.Background(), raw, first)
	w.handle(context.Background(), raw, second)

	assert.Equal(t, 1, first.acks)
	assert.Equal(t, 1, second.acks)
	assert.Len(t, j.Entries(), 1)
}

func TestHandleSkipsBadRecords(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"event_id":`},
		{"missing event id", `{"channel":"trades","envelope":{"meta":{"ts":"1"},"data":{}}}`},
		{"bad ts", `{"event_id":"e1","envelope":{"meta":{"ts":"yesterday"},"data":{}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewMemoryJournal()
			msg := &fakeMsg{}
			newTestWorker(j).handle(context.Background(), []byte(tt.data), msg)
			assert.Equal(t, 1, msg.acks)
			assert.Zero(t, msg.naks)
			assert.Empty(t, j.Entries())
		})
	}
}

func TestHandleNaksOnWriteFailure(t *testing.T) {
	msg := &fakeMsg{}
	newTestWorker(failingJournal{}).handle(context.Background(), signedRecord(t, "e"), msg)
	assert.Zero(t, msg.acks)
	assert.Equal(t, 1, msg.naks)
}
