package fixgateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/joripage/bess-exchange/pkg/admission"
	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/ledger"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/policy"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPolicy struct{}

func (staticPolicy) Current() *policy.Policy { return policy.Empty() }

type sentReport struct {
	report    executionreport.ExecutionReport
	sessionID quickfix.SessionID
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentReport
}

func (c *captureSender) send(m quickfix.Messagable, sessionID quickfix.SessionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentReport{executionreport.FromMessage(m.ToMessage()), sessionID})
	return nil
}

func (c *captureSender) reports() []sentReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentReport(nil), c.sent...)
}

type rejectingSubmitter struct{ err error }

func (r rejectingSubmitter) Submit(context.Context, exchange.SubmitRequest) (*exchange.SubmitResult, error) {
	return nil, r.err
}

var session = quickfix.SessionID{BeginString: quickfix.BeginStringFIX44, SenderCompID: "EXCHANGE", TargetCompID: "BESS01"}

func nos(clOrdID string, side enum.Side, tif enum.TimeInForce, price, qty string) *NewOrderSingle {
	return &NewOrderSingle{
		SessionID:   session,
		Account:     "bess-01",
		ClOrdID:     clOrdID,
		Symbol:      "DE-H12",
		SecurityID:  "2026-03-01T12:00:00Z/2026-03-01T13:00:00Z",
		OrdType:     enum.OrdType_LIMIT,
		Price:       decimal.RequireFromString(price),
		TimeInForce: tif,
		Side:        side,
		OrderQty:    decimal.RequireFromString(qty),
	}
}

func newGateway(t *testing.T, sub Submitter) (*FixGateway, *captureSender) {
	t.Helper()
	gw := NewFixGateway(Config{}, sub, nil)
	c := &captureSender{}
	gw.send = c.send
	gw.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	return gw, c
}

func TestToSubmitRequest(t *testing.T) {
	req := toSubmitRequest("o-1", nos("c-1", enum.Side_SELL, enum.TimeInForce_DAY, "48.5", "1.25"))
	assert.Equal(t, "o-1", req.OrderID)
	assert.Equal(t, "bess-01", req.Owner)
	assert.Equal(t, "DE-H12", req.Market)
	assert.Equal(t, "SELL", req.Side)
	assert.Equal(t, "LIMIT", req.Type)
	assert.Equal(t, "GFD", req.TimeInForce)
	assert.True(t, req.LimitPrice.Equal(decimal.RequireFromString("48.5")))
	assert.Equal(t, "2026-03-01T12:00:00Z", req.DeliveryStart)
	assert.Equal(t, "2026-03-01T13:00:00Z", req.DeliveryEnd)

	tests := []struct {
		tif  enum.TimeInForce
		want string
	}{
		{enum.TimeInForce_IMMEDIATE_OR_CANCEL, "IOC"},
		{enum.TimeInForce_FILL_OR_KILL, "FOK"},
		{enum.TimeInForce_GOOD_TILL_CANCEL, string(enum.TimeInForce_GOOD_TILL_CANCEL)},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := toSubmitRequest("o", nos("c", enum.Side_BUY, tt.tif, "1", "1"))
			assert.Equal(t, tt.want, got.TimeInForce)
		})
	}

	noWindow := nos("c-2", enum.Side_BUY, enum.TimeInForce_DAY, "1", "1")
	noWindow.SecurityID = "DE-H12"
	got := toSubmitRequest("o-2", noWindow)
	assert.Empty(t, got.DeliveryStart)
	assert.Empty(t, got.DeliveryEnd)
}

func TestAddOrderRejected(t *testing.T) {
	gw, c := newGateway(t, rejectingSubmitter{fmt.Errorf("%w: quantity must be positive", admission.ErrValidation)})

	gw.AddOrder(context.Background(), nos("c-1", enum.Side_BUY, enum.TimeInForce_DAY, "50", "0"))

	sent := c.reports()
	require.Len(t, sent, 1)
	assert.Equal(t, session, sent[0].sessionID)
	msg := sent[0].report

	execType, err := msg.GetExecType()
	require.Nil(t, err)
	assert.Equal(t, enum.ExecType_REJECTED, execType)
	status, err := msg.GetOrdStatus()
	require.Nil(t, err)
	assert.Equal(t, enum.OrdStatus_REJECTED, status)
	clOrdID, err := msg.GetClOrdID()
	require.Nil(t, err)
	assert.Equal(t, "c-1", clOrdID)
	text, err := msg.GetText()
	require.Nil(t, err)
	assert.Contains(t, text, "quantity must be positive")

	count := 0
	gw.requestMapping.Range(func(_, _ any) bool { count++; return true })
	assert.Zero(t, count, "rejected orders are not tracked")
}

func TestExecutionReportsFollowOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	tel := telemetry.NewMemory(telemetry.Reading{SocPercent: 50, TemperatureC: 25})
	svc := exchange.NewService(exchange.Config{}, exchange.Deps{
		Ledger:    ledger.NewMemory(),
		Admission: admission.NewController(admission.DefaultConfig(), admission.NewMemoryCounter(nil), tel, staticPolicy{}, nil),
		Telemetry: tel,
	}, nil)
	gw, c := newGateway(t, svc)
	svc.RegisterGateway(reportOnly{gw})
	require.NoError(t, svc.Start(ctx))
	t.Cleanup(svc.Stop)

	gw.AddOrder(ctx, nos("sell-1", enum.Side_SELL, enum.TimeInForce_DAY, "50", "2"))
	gw.AddOrder(ctx, nos("buy-1", enum.Side_BUY, enum.TimeInForce_IMMEDIATE_OR_CANCEL, "60", "3"))
	require.NoError(t, svc.Flush(ctx))

	type row struct {
		clOrdID   string
		execType  enum.ExecType
		ordStatus enum.OrdStatus
	}
	var got []row
	for _, s := range c.reports() {
		clOrdID, _ := s.report.GetClOrdID()
		execType, _ := s.report.GetExecType()
		status, _ := s.report.GetOrdStatus()
		got = append(got, row{clOrdID, execType, status})
	}
	assert.Equal(t, []row{
		{"sell-1", enum.ExecType_NEW, enum.OrdStatus_NEW},
		{"buy-1", enum.ExecType_NEW, enum.OrdStatus_NEW},
		{"buy-1", enum.ExecType_TRADE, enum.OrdStatus_PARTIALLY_FILLED},
		{"sell-1", enum.ExecType_TRADE, enum.OrdStatus_FILLED},
		{"buy-1", enum.ExecType_CANCELED, enum.OrdStatus_CANCELED},
	}, got)

	sent := c.reports()
	trade := sent[2].report
	lastPx, err := trade.GetLastPx()
	require.Nil(t, err)
	assert.True(t, lastPx.Equal(decimal.NewFromInt(55)), "mean price, got %s", lastPx)
	lastQty, err := trade.GetLastQty()
	require.Nil(t, err)
	assert.True(t, lastQty.Equal(decimal.NewFromInt(2)))
	leaves, err := trade.GetLeavesQty()
	require.Nil(t, err)
	assert.True(t, leaves.Equal(decimal.NewFromInt(1)))
	avgPx, err := trade.GetAvgPx()
	require.Nil(t, err)
	assert.True(t, avgPx.Equal(decimal.NewFromInt(55)))

	cancelled := sent[4].report
	text, err := cancelled.GetText()
	require.Nil(t, err)
	assert.NotEmpty(t, text)
	leaves, err = cancelled.GetLeavesQty()
	require.Nil(t, err)
	assert.True(t, leaves.IsZero())

	count := 0
	gw.requestMapping.Range(func(_, _ any) bool { count++; return true })
	assert.Zero(t, count, "terminal orders are released")
}

func TestOnOrderReportIgnoresForeignOrders(t *testing.T) {
	gw, c := newGateway(t, rejectingSubmitter{})
	gw.OnOrderReport(context.Background(), model.NewOrderEventAccepted(model.Order{ID: "http-order"}, time.Now()))
	assert.Empty(t, c.reports())
}

// reportOnly keeps the acceptor out of the service start path.
type reportOnly struct{ *FixGateway }

func (reportOnly) Start(context.Context) error { return nil }
