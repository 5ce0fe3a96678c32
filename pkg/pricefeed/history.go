package pricefeed

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"
)

// Point is one persisted mark/EMA/VWAP sample.
type Point struct {
	Market string          `json:"market"`
	TS     int64           `json:"ts"`
	Mark   decimal.Decimal `json:"mark"`
	EMA    decimal.Decimal `json:"ema"`
	VWAP   decimal.Decimal `json:"vwap"`
}

// HistoryStore is an append-mostly, pruned time series of points.
type HistoryStore interface {
	// Put stores p unless the market already has a point in the same second.
	Put(p Point) (bool, error)
	// Recent returns up to limit points, newest first.
	Recent(market string, limit int) ([]Point, error)
	// Range returns points with from <= ts < to, oldest first.
	Range(market string, from, to int64) ([]Point, error)
	PruneBefore(cutoff time.Time) error
	Close() error
}

// keys: ph:<market>\x00<8-byte ms>, pm:<market>
const (
	historyPrefix = "ph:"
	marketPrefix  = "pm:"
)

func pointKey(market string, ms int64) []byte {
	k := make([]byte, 0, len(historyPrefix)+len(market)+9)
	k = append(k, historyPrefix...)
	k = append(k, market...)
	k = append(k, 0)
	return binary.BigEndian.AppendUint64(k, uint64(ms))
}

func marketKey(market string) []byte {
	return append([]byte(marketPrefix), market...)
}

type PebbleHistory struct {
	db *pebble.DB
}

// NewPebbleHistory opens the store at path. fs may be nil for the OS filesystem.
func NewPebbleHistory(path string, fs vfs.FS) (*PebbleHistory, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}
	return &PebbleHistory{db: db}, nil
}

func (s *PebbleHistory) Close() error { return s.db.Close() }

func (s *PebbleHistory) Put(p Point) (bool, error) {
	sec := p.TS / 1000 * 1000
	dup, err := s.hasAny(pointKey(p.Market, sec), pointKey(p.Market, sec+1000))
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}

	val, err := json.Marshal(p)
	if err != nil {
		return false, fmt.Errorf("failed to marshal point: %w", err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(pointKey(p.Market, p.TS), val, nil); err != nil {
		return false, err
	}
	if err := b.Set(marketKey(p.Market), nil, nil); err != nil {
		return false, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return false, fmt.Errorf("failed to save point: %w", err)
	}
	return true, nil
}

func (s *PebbleHistory) hasAny(lower, upper []byte) (bool, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return false, err
	}
	found := it.First()
	return found, it.Close()
}

func (s *PebbleHistory) Recent(market string, limit int) ([]Point, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: pointKey(market, 0),
		UpperBound: pointKey(market, -1),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := make([]Point, 0, limit)
	for ok := it.Last(); ok && len(out) < limit; ok = it.Prev() {
		var p Point
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal point: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PebbleHistory) Range(market string, from, to int64) ([]Point, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: pointKey(market, from),
		UpperBound: pointKey(market, to),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Point
	for ok := it.First(); ok; ok = it.Next() {
		var p Point
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal point: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *PebbleHistory) markets() ([]string, error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(marketPrefix),
		UpperBound: []byte("pm;"),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []string
	for ok := it.First(); ok; ok = it.Next() {
		out = append(out, string(it.Key()[len(marketPrefix):]))
	}
	return out, nil
}

func (s *PebbleHistory) PruneBefore(cutoff time.Time) error {
	markets, err := s.markets()
	if err != nil {
		return err
	}
	for _, m := range markets {
		if err := s.db.DeleteRange(pointKey(m, 0), pointKey(m, cutoff.UnixMilli()), pebble.Sync); err != nil {
			return fmt.Errorf("prune %s: %w", m, err)
		}
	}
	return nil
}
