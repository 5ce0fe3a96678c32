package fixgateway

import (
	"strings"
	"time"

	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/shopspring/decimal"
)

const (
	priceScale int32 = 6
	qtyScale   int32 = 6
)

var (
	sideMapping = map[enum.Side]model.OrderSide{
		enum.Side_BUY:  model.OrderSideBuy,
		enum.Side_SELL: model.OrderSideSell,
	}

	ordTypeMapping = map[enum.OrdType]model.OrderType{
		enum.OrdType_LIMIT:  model.OrderTypeLimit,
		enum.OrdType_MARKET: model.OrderTypeMarket,
	}

	timeInForceMapping = map[enum.TimeInForce]model.OrderTimeInForce{
		enum.TimeInForce_DAY:                 model.OrderTimeInForceGFD,
		enum.TimeInForce_IMMEDIATE_OR_CANCEL: model.OrderTimeInForceIOC,
		enum.TimeInForce_FILL_OR_KILL:        model.OrderTimeInForceFOK,
	}
)

// toSubmitRequest maps a NewOrderSingle onto an exchange order. Unmapped enum
// values are passed through raw so admission rejects them.
func toSubmitRequest(orderID string, nos *NewOrderSingle) exchange.SubmitRequest {
	req := exchange.SubmitRequest{
		OrderID:    orderID,
		Owner:      nos.Account,
		Market:     nos.Symbol,
		LimitPrice: nos.Price,
		Quantity:   nos.OrderQty,
	}

	if v, ok := sideMapping[nos.Side]; ok {
		req.Side = string(v)
	} else {
		req.Side = string(nos.Side)
	}
	if v, ok := ordTypeMapping[nos.OrdType]; ok {
		req.Type = string(v)
	} else {
		req.Type = string(nos.OrdType)
	}
	if v, ok := timeInForceMapping[nos.TimeInForce]; ok {
		req.TimeInForce = string(v)
	} else {
		req.TimeInForce = string(nos.TimeInForce)
	}

	// SecurityID carries the delivery window as "start/end"
	if start, end, ok := strings.Cut(nos.SecurityID, "/"); ok {
		req.DeliveryStart = strings.TrimSpace(start)
		req.DeliveryEnd = strings.TrimSpace(end)
	}
	return req
}

func fixSide(s model.OrderSide) enum.Side {
	if s == model.OrderSideSell {
		return enum.Side_SELL
	}
	return enum.Side_BUY
}

func newExecutionReport(orderID, execID string, execType enum.ExecType, ordStatus enum.OrdStatus, side enum.Side,
	leaves, cum, avgPx decimal.Decimal) executionreport.ExecutionReport {
	return executionreport.New(
		field.NewOrderID(orderID),
		field.NewExecID(execID),
		field.NewExecType(execType),
		field.NewOrdStatus(ordStatus),
		field.NewSide(side),
		field.NewLeavesQty(leaves, qtyScale),
		field.NewCumQty(cum, qtyScale),
		field.NewAvgPx(avgPx, priceScale),
	)
}

// orderReportToExecutionReport builds the report for one order event and
// updates the running fill totals of req.
func orderReportToExecutionReport(req *request, ev *model.OrderEvent) executionreport.ExecutionReport {
	order := ev.Order
	leaves := order.Remaining()
	execType := enum.ExecType_NEW
	ordStatus := enum.OrdStatus_NEW

	switch ev.Type {
	case model.OrderEventFill:
		req.cumQty = req.cumQty.Add(ev.LastQty)
		req.cumNotional = req.cumNotional.Add(ev.LastQty.Mul(ev.LastPrice))
		execType = enum.ExecType_TRADE
		ordStatus = enum.OrdStatus_PARTIALLY_FILLED
		if order.Status == model.OrderStatusFilled {
			ordStatus = enum.OrdStatus_FILLED
		}
	case model.OrderEventCancelled:
		execType = enum.ExecType_CANCELED
		ordStatus = enum.OrdStatus_CANCELED
		leaves = decimal.Zero
	}

	msg := newExecutionReport(order.ID, ev.EventID, execType, ordStatus, fixSide(order.Side),
		leaves, order.Filled, req.avgPx())
	msg.SetClOrdID(req.ClOrdID)
	msg.SetAccount(order.Owner)
	msg.SetSymbol(order.Market)
	msg.SetOrderQty(order.Quantity, qtyScale)
	msg.SetPrice(order.LimitPrice, priceScale)
	msg.SetTransactTime(ev.Timestamp)

	if ev.Type == model.OrderEventFill {
		msg.SetLastQty(ev.LastQty, qtyScale)
		msg.SetLastPx(ev.LastPrice, priceScale)
	}
	if ev.Reason != "" {
		msg.SetText(ev.Reason)
	}
	return msg
}

func rejectToExecutionReport(orderID string, nos *NewOrderSingle, reason string, at time.Time) executionreport.ExecutionReport {
	msg := newExecutionReport(orderID, orderID+"-REJECTED", enum.ExecType_REJECTED, enum.OrdStatus_REJECTED, nos.Side,
		decimal.Zero, decimal.Zero, decimal.Zero)
	msg.SetClOrdID(nos.ClOrdID)
	msg.SetAccount(nos.Account)
	msg.SetSymbol(nos.Symbol)
	msg.SetOrderQty(nos.OrderQty, qtyScale)
	msg.SetTransactTime(at)
	msg.SetText(reason)
	return msg
}
