package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	fix44nos "github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/shopspring/decimal"
)

var (
	rate    = flag.Int("rate", 250, "orders per second")
	seconds = flag.Int("seconds", 60, "how long to send")
	owners  = flag.Int("owners", 50, "distinct accounts; keep rate/owners under the per-minute budget")
	market  = flag.String("market", "DE-H12", "market symbol")
)

type InitiatorApp struct {
	*quickfix.MessageRouter
	window string

	sent, news, trades, rejects, cancels atomic.Int64
}

func newInitiatorApp(window string) *InitiatorApp {
	a := &InitiatorApp{MessageRouter: quickfix.NewMessageRouter(), window: window}
	a.AddRoute(executionreport.Route(a.onExecutionReport))
	return a
}

func (a *InitiatorApp) OnCreate(sessionID quickfix.SessionID) {}

func (a *InitiatorApp) OnLogon(sessionID quickfix.SessionID) {
	log.Println("Logon success")
	go a.sendSoftly(sessionID)
}

func (a *InitiatorApp) OnLogout(sessionID quickfix.SessionID)                       {}
func (a *InitiatorApp) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}
func (a *InitiatorApp) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}
func (a *InitiatorApp) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}
func (a *InitiatorApp) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return a.Route(msg, sessionID)
}

func (a *InitiatorApp) onExecutionReport(msg executionreport.ExecutionReport, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	execType, err := msg.GetExecType()
	if err != nil {
		return err
	}
	switch execType {
	case enum.ExecType_NEW:
		a.news.Add(1)
	case enum.ExecType_TRADE:
		a.trades.Add(1)
	case enum.ExecType_REJECTED:
		a.rejects.Add(1)
	case enum.ExecType_CANCELED:
		a.cancels.Add(1)
	}
	return nil
}

// sendSoftly sends rate orders every second for the configured duration.
func (a *InitiatorApp) sendSoftly(sessionID quickfix.SessionID) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < *seconds; i++ {
		t := <-ticker.C
		start := time.Now()
		for j := 0; j < *rate; j++ {
			if err := quickfix.SendToTarget(a.randomOrder(), sessionID); err != nil {
				log.Println("send:", err)
				continue
			}
			a.sent.Add(1)
		}
		fmt.Printf("%s sent=%d took=%s new=%d trade=%d reject=%d cancel=%d\n",
			t.Format("15:04:05"), *rate, time.Since(start),
			a.news.Load(), a.trades.Load(), a.rejects.Load(), a.cancels.Load())
	}
}

func (a *InitiatorApp) randomOrder() fix44nos.NewOrderSingle {
	side := enum.Side_BUY
	// sellers quote a little higher so the book keeps some depth
	px := 45 + rand.Float64()*10
	if rand.Intn(2) == 0 {
		side = enum.Side_SELL
		px += 2
	}
	tif := enum.TimeInForce_DAY
	if rand.Intn(10) == 0 {
		tif = enum.TimeInForce_IMMEDIATE_OR_CANCEL
	}

	order := fix44nos.New(
		field.NewClOrdID(randSeq(17)),
		field.NewSide(side),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(enum.OrdType_LIMIT))
	order.SetSymbol(*market)
	order.SetSecurityID(a.window)
	order.SetAccount(fmt.Sprintf("bess-%03d", rand.Intn(*owners)))
	order.SetPrice(decimal.NewFromFloat(px).Round(2), 2)
	order.SetOrderQty(decimal.NewFromInt(int64(rand.Intn(10)+1)), 0)
	order.SetTimeInForce(tif)
	return order
}

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		log.Fatal("usage: benchmark_fix [flags] <settings file>")
	}
	start := time.Now().UTC().Truncate(time.Hour).Add(2 * time.Hour)
	app := newInitiatorApp(start.Format(time.RFC3339) + "/" + start.Add(time.Hour).Format(time.RFC3339))

	cfg, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer cfg.Close() // nolint

	settings, err := quickfix.ParseSettings(cfg)
	if err != nil {
		log.Fatal(err)
	}
	logFactory, err := file.NewLogFactory(settings)
	if err != nil {
		log.Fatal(err)
	}
	initiator, err := quickfix.NewInitiator(app, quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		log.Fatal(err)
	}
	if err := initiator.Start(); err != nil {
		log.Fatal(err)
	}
	defer initiator.Stop()

	time.Sleep(time.Duration(*seconds+5) * time.Second)
	fmt.Println("--------")
	fmt.Printf("Sent    : %d\n", app.sent.Load())
	fmt.Printf("New     : %d\n", app.news.Load())
	fmt.Printf("Trades  : %d\n", app.trades.Load())
	fmt.Printf("Rejects : %d\n", app.rejects.Load())
	fmt.Printf("Cancels : %d\n", app.cancels.Load())
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randSeq(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
