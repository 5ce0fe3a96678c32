package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/joripage/bess-exchange/pkg/distributor"
	"github.com/joripage/bess-exchange/pkg/exchange"
	"github.com/joripage/bess-exchange/pkg/ledger"
	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/joripage/bess-exchange/pkg/pricefeed"
	"github.com/joripage/bess-exchange/pkg/telemetry"
	"github.com/shopspring/decimal"
)

const defaultDepthLevels = 10

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req exchange.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	req.Owner = owner(r)

	res, err := s.deps.Exchange.Submit(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orders, err := s.deps.Exchange.ListOrders(r.Context(), ledger.OrderFilter{
		Owner:  q.Get("owner"),
		Market: q.Get("market"),
		Limit:  queryInt(r, "limit", ledger.DefaultListLimit),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Exchange.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Exchange.OrderEvents(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.deps.Exchange.ListTrades(r.Context(), ledger.TradeFilter{
		Market: r.URL.Query().Get("market"),
		Limit:  queryInt(r, "limit", ledger.DefaultListLimit),
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Exchange.Book(mux.Vars(r)["market"])
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	levels := queryInt(r, "levels", defaultDepthLevels)
	respondJSON(w, http.StatusOK, s.deps.Exchange.Depth(mux.Vars(r)["market"], levels))
}

type telemetryResponse struct {
	telemetry.Reading
	Limits telemetry.Limits `json:"limits"`
}

func (s *Server) handlePostTelemetry(w http.ResponseWriter, r *http.Request) {
	var reading telemetry.Reading
	if err := decodeBody(r, &reading); err != nil {
		s.respondError(w, r, err)
		return
	}
	if _, err := s.deps.Exchange.UpdateTelemetry(r.Context(), reading); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.handleGetTelemetry(w, r)
}

func (s *Server) handleGetTelemetry(w http.ResponseWriter, r *http.Request) {
	reading, limits, err := s.deps.Exchange.TelemetryStatus(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, telemetryResponse{Reading: reading, Limits: limits})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Policy.Current())
}

func (s *Server) handleReloadPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Policy.Reload()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type bookInjectRequest struct {
	Market string             `json:"market"`
	Bids   []model.PriceLevel `json:"bids"`
	Asks   []model.PriceLevel `json:"asks"`
}

func (s *Server) handleBookInject(w http.ResponseWriter, r *http.Request) {
	var req bookInjectRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	snap, err := s.deps.Exchange.InjectBook(r.Context(), req.Market, req.Bids, req.Asks)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type pricePushRequest struct {
	Market string           `json:"market"`
	Price  decimal.Decimal  `json:"price"`
	Volume *decimal.Decimal `json:"volume"`
}

func (s *Server) handlePricePush(w http.ResponseWriter, r *http.Request) {
	var req pricePushRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	volume := decimal.NewFromInt(1)
	if req.Volume != nil {
		volume = *req.Volume
	}
	q, err := s.deps.Exchange.PushPrice(r.Context(), req.Market, req.Price, volume)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

func (s *Server) handleMarketPrices(w http.ResponseWriter, r *http.Request) {
	q, err := s.deps.PriceFeed.Current(r.Context(), r.URL.Query().Get("market"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, q)
}

func (s *Server) handleMarketHistory(w http.ResponseWriter, r *http.Request) {
	points, err := s.deps.PriceFeed.History(r.URL.Query().Get("market"), queryInt(r, "limit", pricefeed.DefaultHistoryLimit))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if points == nil {
		points = []pricefeed.Point{}
	}
	respondJSON(w, http.StatusOK, points)
}

func parseTimeParam(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errBadRequestf("%s: %v", key, err)
	}
	return t, nil
}

func (s *Server) handleMarketStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bucket, err := pricefeed.ParseBucket(q.Get("bucket"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	now := time.Now().UTC()
	to, err := parseTimeParam(r, "to", now)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	from, err := parseTimeParam(r, "from", to.Add(-24*time.Hour))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	stats, err := s.deps.PriceFeed.Stats(q.Get("market"), bucket, from, to)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if stats == nil {
		stats = []pricefeed.Stat{}
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleKeyDiscovery(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Keys.Discovery())
}

type rotateRequest struct {
	Kid    string `json:"kid"`
	Secret string `json:"secret"`
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := decodeBody(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.deps.Keys.Rotate(req.Kid, req.Secret); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.log.Info("signing key rotated")
	respondJSON(w, http.StatusOK, s.deps.Keys.Discovery())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWSBook(w http.ResponseWriter, r *http.Request) {
	s.deps.Distributor.ServeWS(w, r, distributor.BookChannel(mux.Vars(r)["market"]), distributor.KindBook)
}

func (s *Server) handleWSTrades(w http.ResponseWriter, r *http.Request) {
	s.deps.Distributor.ServeWS(w, r, distributor.TradesChannel(), distributor.KindTrades)
}

func (s *Server) handleWSOrders(w http.ResponseWriter, r *http.Request) {
	s.deps.Distributor.ServeWS(w, r, distributor.OrdersChannel(owner(r)), distributor.KindOrders)
}

func (s *Server) handleWSPrices(w http.ResponseWriter, r *http.Request) {
	s.deps.Distributor.ServeWS(w, r, distributor.PricesChannel(mux.Vars(r)["market"]), distributor.KindPrices)
}
