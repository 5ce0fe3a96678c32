package main

import (
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	fix44nos "github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/shopspring/decimal"
)

type InitiatorApp struct {
	*quickfix.MessageRouter
	market string
	window string
}

func newInitiatorApp(market, window string) *InitiatorApp {
	a := &InitiatorApp{
		MessageRouter: quickfix.NewMessageRouter(),
		market:        market,
		window:        window,
	}
	a.AddRoute(executionreport.Route(a.onExecutionReport))
	return a
}

func (a *InitiatorApp) OnCreate(sessionID quickfix.SessionID) {}

func (a *InitiatorApp) OnLogon(sessionID quickfix.SessionID) {
	log.Println("Logon success", sessionID)
	a.sendCrossingOrders(sessionID)
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
	clOrdID, _ := msg.GetClOrdID()
	execType, _ := msg.GetExecType()
	ordStatus, _ := msg.GetOrdStatus()
	lastQty, _ := msg.GetLastQty()
	lastPx, _ := msg.GetLastPx()
	text, _ := msg.GetText()
	log.Printf("exec report clOrdID=%s execType=%s ordStatus=%s lastQty=%s lastPx=%s text=%q",
		clOrdID, execType, ordStatus, lastQty, lastPx, text)
	return nil
}

func (a *InitiatorApp) newOrder(sessionID quickfix.SessionID, account string, side enum.Side, price, qty decimal.Decimal) fix44nos.NewOrderSingle {
	order := fix44nos.New(
		field.NewClOrdID(randSeq(17)),
		field.NewSide(side),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(enum.OrdType_LIMIT))
	order.SetSymbol(a.market)
	order.SetSecurityID(a.window)
	order.SetAccount(account)
	order.SetPrice(price, 2)
	order.SetOrderQty(qty, 3)
	order.SetTimeInForce(enum.TimeInForce_DAY)
	order.SetSenderCompID(sessionID.SenderCompID)
	order.SetTargetCompID(sessionID.TargetCompID)
	return order
}

// sendCrossingOrders sends a resting sell and a buy that partially lifts it.
func (a *InitiatorApp) sendCrossingOrders(sessionID quickfix.SessionID) {
	sell := a.newOrder(sessionID, "bess-north", enum.Side_SELL, decimal.RequireFromString("48.50"), decimal.NewFromInt(5))
	if err := quickfix.Send(sell); err != nil {
		log.Println("send sell:", err)
	}

	buy := a.newOrder(sessionID, "bess-south", enum.Side_BUY, decimal.RequireFromString("52.10"), decimal.RequireFromString("2.5"))
	if err := quickfix.Send(buy); err != nil {
		log.Println("send buy:", err)
	}
}

func main() {
	market := flag.String("market", "DE-H12", "market symbol")
	start := time.Now().UTC().Truncate(time.Hour).Add(2 * time.Hour)
	window := flag.String("window", start.Format(time.RFC3339)+"/"+start.Add(time.Hour).Format(time.RFC3339),
		"delivery window start/end sent as SecurityID")
	flag.Parse()
	if flag.NArg() < 1 {
		log.Fatal("usage: fixclient [flags] <settings file>")
	}
	cfgPath := flag.Arg(0)
	log.Println("cfgPath:", cfgPath)
	app := newInitiatorApp(*market, *window)

	cfg, err := os.Open(cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	defer cfg.Close() // nolint

	settings, err := quickfix.ParseSettings(cfg)
	if err != nil {
		log.Fatal(err)
	}

	storeFactory := quickfix.NewMemoryStoreFactory()
	logFactory, err := file.NewLogFactory(settings)
	if err != nil {
		log.Fatal(err)
	}
	initiator, err := quickfix.NewInitiator(app, storeFactory, settings, logFactory)
	if err != nil {
		log.Fatal(err)
	}
	if err := initiator.Start(); err != nil {
		log.Fatal(err)
	}
	log.Println("Initiator started...")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	initiator.Stop()
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

func randSeq(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
