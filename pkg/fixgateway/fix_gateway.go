package fixgateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"
)

type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ConfigFile string `yaml:"config_file"`
	// Shards > 0 routes inbound messages through a shard queue keyed by ClOrdID.
	Shards    int `yaml:"shards"`
	QueueSize int `yaml:"queue_size"`
}

func (c *Config) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 100_000
	}
}

type Submitter interface {
	Submit(ctx context.Context, req exchange.SubmitRequest) (*exchange.SubmitResult, error)
}

// FixGateway is a FIX 4.4 order entry session in front of the exchange.
type FixGateway struct {
	cfg       Config
	submitter Submitter
	app       *Application
	acceptor  *quickfix.Acceptor
	stopOnce  sync.Once

	requestMapping sync.Map // order id -> *request

	send func(quickfix.Messagable, quickfix.SessionID) error
	now  func() time.Time
	log  *zap.Logger
}

func NewFixGateway(cfg Config, submitter Submitter, log *zap.Logger) *FixGateway {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &FixGateway{
		cfg:       cfg,
		submitter: submitter,
		send:      quickfix.SendToTarget,
		now:       time.Now,
		log:       log.Named("fix"),
	}
}

func (s *FixGateway) Start(ctx context.Context) error {
	s.app = newApplication(s.cfg, s)
	acceptor, err := startAcceptor(s.cfg, s.app)
	if err != nil {
		return err
	}
	s.acceptor = acceptor
	s.log.Info("fix acceptor started", zap.String("settings", s.cfg.ConfigFile))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *FixGateway) Stop() {
	s.stopOnce.Do(func() {
		if s.acceptor != nil {
			s.acceptor.Stop()
		}
	})
}

// AddOrder submits an inbound order. The order id is picked here so reports
// raised during submission already find their session.
func (s *FixGateway) AddOrder(ctx context.Context, nos *NewOrderSingle) {
	orderID := uuid.NewString()
	req := &request{NewOrderSingle: nos, OrderID: orderID}
	s.requestMapping.Store(orderID, req)

	if _, err := s.submitter.Submit(ctx, toSubmitRequest(orderID, nos)); err != nil {
		s.requestMapping.Delete(orderID)
		s.log.Info("order rejected", zap.String("cl_ord_id", nos.ClOrdID), zap.Error(err))
		s.sendReport(rejectToExecutionReport(orderID, nos, err.Error(), s.now()), nos.SessionID)
	}
}

func (s *FixGateway) getRequest(orderID string) (*request, bool) {
	v, ok := s.requestMapping.Load(orderID)
	if !ok {
		return nil, false
	}
	return v.(*request), true
}

func (s *FixGateway) OnOrderReport(ctx context.Context, ev *model.OrderEvent) {
	req, ok := s.getRequest(ev.Order.ID)
	if !ok {
		// entered over HTTP
		return
	}

	req.mu.Lock()
	msg := orderReportToExecutionReport(req, ev)
	req.mu.Unlock()
	s.sendReport(msg, req.SessionID)

	if ev.Order.IsEnd() {
		s.requestMapping.Delete(ev.Order.ID)
	}
}

func (s *FixGateway) sendReport(msg quickfix.Messagable, sessionID quickfix.SessionID) {
	if err := s.send(msg, sessionID); err != nil {
		s.log.Warn("send execution report", zap.String("session", sessionID.String()), zap.Error(err))
	}
}
