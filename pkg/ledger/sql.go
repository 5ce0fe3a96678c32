package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/joripage/bess-exchange/pkg/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// bookSnapshotRecord is the orderbook_history row.
type bookSnapshotRecord struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Market    string    `gorm:"column:market"`
	Bids      string    `gorm:"column:bids;type:jsonb"`
	Asks      string    `gorm:"column:asks;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (bookSnapshotRecord) TableName() string {
	return "orderbook_history"
}

// SQL is the PostgreSQL ledger. Fills run in one transaction whose guarded
// updates take row locks on both orders.
type SQL struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQL(db *gorm.DB) *SQL {
	return &SQL{
		db:  db,
		now: time.Now,
	}
}

func (s *SQL) dbWithContext(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func (s *SQL) InsertOrder(ctx context.Context, order *model.Order) error {
	err := s.dbWithContext(ctx).Create(order).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateOrder
	}
	return err
}

func (s *SQL) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := s.dbWithContext(ctx).Where("id = ?", id).Take(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *SQL) ListOrders(ctx context.Context, filter OrderFilter) ([]*model.Order, error) {
	q := s.dbWithContext(ctx).Model(&model.Order{})
	if filter.Owner != "" {
		q = q.Where("owner = ?", filter.Owner)
	}
	if filter.Market != "" {
		q = q.Where("market = ?", filter.Market)
	}

	var orders []*model.Order
	err := q.Order("created_at DESC").Limit(clampLimit(filter.Limit)).Find(&orders).Error
	return orders, err
}

func (s *SQL) ListTrades(ctx context.Context, filter TradeFilter) ([]*model.Trade, error) {
	q := s.dbWithContext(ctx).Model(&model.Trade{})
	if filter.Market != "" {
		q = q.Where("market = ?", filter.Market)
	}

	var trades []*model.Trade
	err := q.Order("created_at DESC").Limit(clampLimit(filter.Limit)).Find(&trades).Error
	return trades, err
}

func (s *SQL) RestingOrders(ctx context.Context) ([]*model.Order, error) {
	var orders []*model.Order
	err := s.dbWithContext(ctx).
		Where("status = ? AND filled < quantity", string(model.OrderStatusAccepted)).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}

func (s *SQL) ApplyFill(ctx context.Context, fill model.Fill) (*model.FillResult, error) {
	if !fill.Quantity.IsPositive() {
		return nil, ErrOverfill
	}

	result := &model.FillResult{}
	err := s.dbWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		if err := applyOrderFill(tx, fill.IncomingID, fill.Quantity, now); err != nil {
			return err
		}
		if err := applyOrderFill(tx, fill.RestingID, fill.Quantity, now); err != nil {
			return err
		}
		if err := tx.Create(fill.Trade).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", fill.IncomingID).Take(&result.Incoming).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", fill.RestingID).Take(&result.Resting).Error; err != nil {
			return err
		}
		result.Trade = *fill.Trade
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyOrderFill only touches a row that is ACCEPTED and has room for qty.
func applyOrderFill(tx *gorm.DB, id string, qty decimal.Decimal, now time.Time) error {
	res := tx.Model(&model.Order{}).
		Where("id = ? AND status = ? AND filled + ? <= quantity", id, string(model.OrderStatusAccepted), qty).
		Updates(map[string]any{
			"filled":     gorm.Expr("filled + ?", qty),
			"status":     gorm.Expr("CASE WHEN filled + ? >= quantity THEN ? ELSE status END", qty, string(model.OrderStatusFilled)),
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrOverfill
	}
	return nil
}

func (s *SQL) CancelRemainder(ctx context.Context, id string) (*model.Order, error) {
	var order model.Order
	err := s.dbWithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", id, string(model.OrderStatusAccepted)).
			Updates(map[string]any{
				"status":     string(model.OrderStatusCancelled),
				"updated_at": s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrNotCancellable
		}
		return tx.Where("id = ?", id).Take(&order).Error
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *SQL) Exposure(ctx context.Context, owner string) (model.Exposure, error) {
	orders := make([]*model.Order, 0)
	err := s.dbWithContext(ctx).
		Where("owner = ? AND status = ? AND filled < quantity", owner, string(model.OrderStatusAccepted)).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	exp := model.Exposure{}
	for _, o := range orders {
		exp.Add(o)
	}
	return exp, nil
}

func (s *SQL) InsertBookSnapshot(ctx context.Context, snapshot *model.BookSnapshot) error {
	bids, err := json.Marshal(snapshot.Bids)
	if err != nil {
		return err
	}
	asks, err := json.Marshal(snapshot.Asks)
	if err != nil {
		return err
	}
	return s.dbWithContext(ctx).Create(&bookSnapshotRecord{
		Market:    snapshot.Market,
		Bids:      string(bids),
		Asks:      string(asks),
		CreatedAt: snapshot.CreatedAt,
	}).Error
}
