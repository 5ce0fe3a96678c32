package fixgateway

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/joripage/go_util/pkg/shardqueue"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/quickfix/log/file"
	"github.com/quickfixgo/tag"
	"go.uber.org/zap"
)

// Application implements the quickfix.Application interface
type Application struct {
	*quickfix.MessageRouter
	shardQueue *shardqueue.Shardqueue

	gateway *FixGateway
	log     *zap.Logger
}

type inboundMsg struct {
	msg       *quickfix.Message
	sessionID quickfix.SessionID
}

func newApplication(cfg Config, gw *FixGateway) *Application {
	app := &Application{
		MessageRouter: quickfix.NewMessageRouter(),
		gateway:       gw,
		log:           gw.log,
	}

	app.AddRoute(newordersingle.Route(app.onNewOrderSingle))

	if cfg.Shards > 0 {
		app.shardQueue = shardqueue.NewShardQueue(cfg.Shards, cfg.QueueSize)
		app.shardQueue.Start(func(msg interface{}) error {
			if v, ok := msg.(*inboundMsg); ok {
				if err := app.Route(v.msg, v.sessionID); err != nil {
					app.log.Warn("route rejected", zap.String("session", v.sessionID.String()), zap.Error(err))
				}
			}
			return nil
		})
	}

	return app
}

func loadSettings(path string) (*quickfix.Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %v: %w", path, err)
	}
	settings, err := quickfix.ParseSettings(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error reading cfg: %w", err)
	}
	return settings, nil
}

func startAcceptor(cfg Config, app *Application) (*quickfix.Acceptor, error) {
	settings, err := loadSettings(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	logFactory, err := file.NewLogFactory(settings)
	if err != nil {
		return nil, fmt.Errorf("unable to create log factory: %w", err)
	}
	acceptor, err := quickfix.NewAcceptor(app, quickfix.NewMemoryStoreFactory(), settings, logFactory)
	if err != nil {
		return nil, fmt.Errorf("unable to create acceptor: %w", err)
	}
	if err := acceptor.Start(); err != nil {
		return nil, fmt.Errorf("unable to start FIX acceptor: %w", err)
	}
	return acceptor, nil
}

// OnCreate implemented as part of Application interface
func (a *Application) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implemented as part of Application interface
func (a *Application) OnLogon(sessionID quickfix.SessionID) {
	a.log.Info("fix logon", zap.String("session", sessionID.String()))
}

// OnLogout implemented as part of Application interface
func (a *Application) OnLogout(sessionID quickfix.SessionID) {
	a.log.Info("fix logout", zap.String("session", sessionID.String()))
}

// ToAdmin implemented as part of Application interface
func (a *Application) ToAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) {}

// ToApp implemented as part of Application interface
func (a *Application) ToApp(msg *quickfix.Message, sessionID quickfix.SessionID) error {
	return nil
}

// FromAdmin implemented as part of Application interface
func (a *Application) FromAdmin(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp implemented as part of Application interface, uses Router on incoming application messages
func (a *Application) FromApp(msg *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	if a.shardQueue != nil {
		a.shardQueue.Shard(getRoutingKey(msg, sessionID), &inboundMsg{msg, sessionID})
		return nil
	}
	return a.Route(msg, sessionID)
}

func getRoutingKey(msg *quickfix.Message, sessionID quickfix.SessionID) string {
	if clOrdID, err := msg.Body.GetString(tag.ClOrdID); err == nil && clOrdID != "" {
		return clOrdID
	}

	if msgType, err := msg.Header.GetString(tag.MsgType); err == nil {
		return "MSGTYPE:" + msgType
	}

	return sessionID.String()
}

func (a *Application) onNewOrderSingle(msg newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, err := msg.GetClOrdID()
	if err != nil {
		return err
	}
	symbol, err := msg.GetSymbol()
	if err != nil {
		return err
	}
	side, err := msg.GetSide()
	if err != nil {
		return err
	}
	ordType, err := msg.GetOrdType()
	if err != nil {
		return err
	}
	orderQty, err := msg.GetOrderQty()
	if err != nil {
		return err
	}
	price, _ := msg.GetPrice()
	account, _ := msg.GetAccount()
	timeInForce, _ := msg.GetTimeInForce()
	transactTime, _ := msg.GetTransactTime()
	securityID, _ := msg.GetSecurityID()

	a.gateway.AddOrder(context.Background(), &NewOrderSingle{
		SessionID:    sessionID,
		Account:      account,
		ClOrdID:      clOrdID,
		Symbol:       symbol,
		SecurityID:   securityID,
		OrdType:      ordType,
		Price:        price,
		TimeInForce:  timeInForce,
		Side:         side,
		TransactTime: transactTime,
		OrderQty:     orderQty,
	})
	return nil
}
