package state

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

const tickStateRowID = 1

type tickStateRow struct {
	ID         uint `gorm:"primaryKey"`
	Seq        uint64
	LastTickAt time.Time
	Allocation string `gorm:"type:text"`
	History    string `gorm:"type:text"`
	UpdatedAt  time.Time
}

func (tickStateRow) TableName() string { return "tick_states" }

type positionRow struct {
	Symbol   string          `gorm:"primaryKey"`
	Quantity decimal.Decimal `gorm:"type:numeric"`
	AvgCost  decimal.Decimal `gorm:"type:numeric"`
}

func (positionRow) TableName() string { return "positions" }

// orderRecordRow is keyed by the InFlight map key, which differs from the
// intent id for orders placed outside the engine.
type orderRecordRow struct {
	Key            string `gorm:"column:order_key;primaryKey"`
	IntentID       string `gorm:"index"`
	BrokerOrderID  string `gorm:"index"`
	Symbol         string
	Side           string
	Quantity       decimal.Decimal `gorm:"type:numeric"`
	FilledQuantity decimal.Decimal `gorm:"type:numeric"`
	Status         string
	Reason         string
	// Not named UpdatedAt so gorm leaves the broker timestamp alone.
	BrokerUpdatedAt time.Time
}

func (orderRecordRow) TableName() string { return "in_flight_orders" }

// PostgresStore keeps the header, positions and in-flight orders in three
// tables and replaces all of them in one transaction per commit.
type PostgresStore struct {
	db *gorm.DB
}

var _ interfaces.StateStore = (*PostgresStore)(nil)

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, unavailable("open postgres", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, unavailable("open postgres", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, unavailable("ping postgres", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&tickStateRow{}, &positionRow{}, &orderRecordRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, unavailable("migrate postgres", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (types.TickState, error) {
	db := s.db.WithContext(ctx)

	var header tickStateRow
	err := db.First(&header, tickStateRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NewTickState(), nil
	}
	if err != nil {
		return types.TickState{}, unavailable("load", err)
	}

	st := types.NewTickState()
	st.Seq = header.Seq
	st.LastTickAt = header.LastTickAt.UTC()
	if err := json.Unmarshal([]byte(header.Allocation), &st.Allocation); err != nil {
		return types.TickState{}, unavailable("load allocation", err)
	}
	if err := json.Unmarshal([]byte(header.History), &st.History); err != nil {
		return types.TickState{}, unavailable("load history", err)
	}

	var positions []positionRow
	if err := db.Order("symbol").Find(&positions).Error; err != nil {
		return types.TickState{}, unavailable("load positions", err)
	}
	for _, p := range positions {
		st.Positions = append(st.Positions, types.Position{Symbol: p.Symbol, Quantity: p.Quantity, AvgCost: p.AvgCost})
	}

	var orders []orderRecordRow
	if err := db.Find(&orders).Error; err != nil {
		return types.TickState{}, unavailable("load order records", err)
	}
	st.InFlight = fromOrderRows(orders)
	return st.Normalize(), nil
}

func (s *PostgresStore) Commit(ctx context.Context, st types.TickState) error {
	st = st.Normalize()
	alloc, err := json.Marshal(st.Allocation)
	if err != nil {
		return unavailable("commit", err)
	}
	history, err := json.Marshal(st.History)
	if err != nil {
		return unavailable("commit", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header := tickStateRow{
			ID:         tickStateRowID,
			Seq:        st.Seq,
			LastTickAt: st.LastTickAt,
			Allocation: string(alloc),
			History:    string(history),
		}
		if err := tx.Save(&header).Error; err != nil {
			return err
		}

		if err := tx.Where("1 = 1").Delete(&positionRow{}).Error; err != nil {
			return err
		}
		if len(st.Positions) > 0 {
			rows := make([]positionRow, 0, len(st.Positions))
			for _, p := range st.Positions {
				rows = append(rows, positionRow{Symbol: p.Symbol, Quantity: p.Quantity, AvgCost: p.AvgCost})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("1 = 1").Delete(&orderRecordRow{}).Error; err != nil {
			return err
		}
		if len(st.InFlight) > 0 {
			rows := toOrderRows(st.InFlight)
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func toOrderRows(inFlight map[string]types.OrderRecord) []orderRecordRow {
	rows := make([]orderRecordRow, 0, len(inFlight))
	for key, o := range inFlight {
		rows = append(rows, orderRecordRow{
			Key:             key,
			IntentID:        o.IntentID,
			BrokerOrderID:   o.BrokerOrderID,
			Symbol:          o.Symbol,
			Side:            string(o.Side),
			Quantity:        o.Quantity,
			FilledQuantity:  o.FilledQuantity,
			Status:          string(o.Status),
			Reason:          o.Reason,
			BrokerUpdatedAt: o.UpdatedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows
}

func fromOrderRows(rows []orderRecordRow) map[string]types.OrderRecord {
	out := make(map[string]types.OrderRecord, len(rows))
	for _, o := range rows {
		out[o.Key] = types.OrderRecord{
			IntentID:       o.IntentID,
			BrokerOrderID:  o.BrokerOrderID,
			Symbol:         o.Symbol,
			Side:           types.Side(o.Side),
			Quantity:       o.Quantity,
			FilledQuantity: o.FilledQuantity,
			Status:         types.OrderStatus(o.Status),
			Reason:         o.Reason,
			UpdatedAt:      o.BrokerUpdatedAt.UTC(),
		}
	}
	return out
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
