package distributor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/signing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDistributor(t *testing.T, cfg Config) (*Distributor, *signing.Signer) {
	t.Helper()
	ring := signing.NewKeyRing()
	require.NoError(t, ring.Rotate("test", "distributor test secret"))
	signer := signing.NewSigner(ring)
	return New(cfg, signer, nil, nil), signer
}

func TestBroadcastFansOut(t *testing.T) {
	h := NewHub(4, nil, nil)
	a := h.Subscribe("trades", KindTrades)
	b := h.Subscribe("trades", KindTrades)
	other := h.Subscribe("book:DE", KindBook)

	assert.Equal(t, 2, h.Broadcast("trades", []byte("m1")))
	assert.Equal(t, "m1", string(<-a.Messages()))
	assert.Equal(t, "m1", string(<-b.Messages()))
	assert.Len(t, other.Messages(), 0)
}

func TestSlowConsumerRemovedAlone(t *testing.T) {
	h := NewHub(1, nil, nil)
	slow := h.Subscribe("trades", KindTrades)
	fast := h.Subscribe("trades", KindTrades)

	assert.Equal(t, 2, h.Broadcast("trades", []byte("m1")))
	<-fast.Messages()

	assert.Equal(t, 1, h.Broadcast("trades", []byte("m2")))
	assert.Equal(t, StateDisconnected, slow.State())
	assert.Equal(t, StateConnected, fast.State())
	assert.Equal(t, 1, h.Count("trades"))
	assert.Equal(t, "m2", string(<-fast.Messages()))

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow subscriber not closed")
	}
	assert.ErrorIs(t, slow.deliver([]byte("x")), ErrDisconnected)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	h := NewHub(1, nil, nil)
	s := h.Subscribe("trades", KindTrades)
	h.Unsubscribe(s)
	h.Unsubscribe(s)
	assert.Equal(t, 0, h.Count("trades"))
	assert.Equal(t, 0, h.Broadcast("trades", []byte("m")))
}

func TestConcurrentBroadcastAndSubscribe(t *testing.T) {
	h := NewHub(1024, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s := h.Subscribe("trades", KindTrades)
			h.Broadcast("trades", []byte("m"))
			h.Unsubscribe(s)
		}()
		go func() {
			defer wg.Done()
			h.Broadcast("trades", []byte("n"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Count("trades"))
}

func decodeEnvelope(t *testing.T, raw []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestPublishTradeIsSigned(t *testing.T) {
	d, signer := newTestDistributor(t, Config{})
	sub := d.Hub().Subscribe(TradesChannel(), KindTrades)

	trade := &model.Trade{ID: "t1", Market: "DE", Quantity: decimal.NewFromInt(2), Price: decimal.RequireFromString("50.5")}
	require.NoError(t, d.PublishTrade(context.Background(), trade))

	env := decodeEnvelope(t, <-sub.Messages())
	assert.Equal(t, signing.Algorithm, env.Meta.Algo)
	assert.Equal(t, "test", env.Meta.KeyID)
	assert.Nil(t, env.Meta.ThrottleRemaining)
	require.NoError(t, signer.Verify(env.Meta.Meta, env.Data))
}

type fakeOrderContext struct{}

func (fakeOrderContext) ThrottleRemaining(context.Context, string, string) (int, error) {
	return 7, nil
}

func (fakeOrderContext) Exposure(context.Context, string) (model.Exposure, error) {
	return model.Exposure{"DE": {Energy: decimal.NewFromInt(3), Notional: decimal.NewFromInt(150)}}, nil
}

func TestPublishOrderCarriesExtras(t *testing.T) {
	d, signer := newTestDistributor(t, Config{})
	d.SetOrderContext(fakeOrderContext{})
	mine := d.Hub().Subscribe(OrdersChannel("alice"), KindOrders)
	theirs := d.Hub().Subscribe(OrdersChannel("bob"), KindOrders)

	ev := model.NewOrderEventAccepted(model.Order{ID: "o1", Owner: "alice", Market: "DE"}, time.Now())
	require.NoError(t, d.PublishOrder(context.Background(), ev))

	env := decodeEnvelope(t, <-mine.Messages())
	require.NotNil(t, env.Meta.ThrottleRemaining)
	assert.Equal(t, 7, *env.Meta.ThrottleRemaining)
	assert.True(t, env.Meta.ExposureSnapshot["DE"].Energy.Equal(decimal.NewFromInt(3)))
	assert.NoError(t, signer.Verify(env.Meta.Meta, env.Data))
	assert.Len(t, theirs.Messages(), 0)
}

func TestPublishBookSendsTopLevels(t *testing.T) {
	d, _ := newTestDistributor(t, Config{})
	sub := d.Hub().Subscribe(BookChannel("DE"), KindBook)

	snap := &model.BookSnapshot{Market: "DE"}
	for i := 0; i < 15; i++ {
		snap.Bids = append(snap.Bids, model.PriceLevel{Price: decimal.NewFromInt(int64(100 - i)), Quantity: decimal.NewFromInt(1)})
	}
	require.NoError(t, d.PublishBook(context.Background(), snap))

	env := decodeEnvelope(t, <-sub.Messages())
	var got model.BookSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Bids, BookTopDepth)
}

type recordingSink struct {
	mu   sync.Mutex
	recs []Record
	fail bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	if s.fail {
		return assert.AnError
	}
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func TestSinkFailureDoesNotAffectSubscribers(t *testing.T) {
	d, _ := newTestDistributor(t, Config{})
	bad := &recordingSink{fail: true}
	good := &recordingSink{}
	d.AddSink(bad)
	d.AddSink(good)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	sub := d.Hub().Subscribe(TradesChannel(), KindTrades)
	require.NoError(t, d.PublishTrade(ctx, &model.Trade{ID: "t9"}))
	<-sub.Messages()

	require.Eventually(t, func() bool { return good.len() == 1 && bad.len() == 1 }, time.Second, 5*time.Millisecond)
	good.mu.Lock()
	assert.Equal(t, "t9", good.recs[0].EventID)
	assert.Equal(t, KindTrades, good.recs[0].Kind)
	good.mu.Unlock()
}

func TestServeWS(t *testing.T) {
	d, signer := newTestDistributor(t, Config{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.ServeWS(w, r, TradesChannel(), KindTrades)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return d.Hub().Count(TradesChannel()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.PublishTrade(context.Background(), &model.Trade{ID: "t1", Market: "DE"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	env := decodeEnvelope(t, raw)
	assert.NoError(t, signer.Verify(env.Meta.Meta, env.Data))

	conn.Close()
	require.Eventually(t, func() bool { return d.Hub().Count(TradesChannel()) == 0 }, 2*time.Second, 10*time.Millisecond)
}
