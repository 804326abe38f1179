// Package journal writes the order audit trail: one JSON line per order
// event into a file per day, plus the daily CSV summary and compression of
// old days.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

const dayLayout = "2006-01-02"

type Journal struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	day    string
	file   *os.File
	logger *zap.Logger
}

var _ interfaces.Journal = (*Journal)(nil)

// Open prepares dir. Day files are opened lazily on the first record.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	return &Journal{dir: dir, now: time.Now}, nil
}

func DayFile(dir string, day time.Time) string {
	return filepath.Join(dir, day.Format(dayLayout)+".log")
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.MessageKey = "event"
	cfg.LevelKey = ""
	cfg.CallerKey = ""
	cfg.StacktraceKey = ""
	return cfg
}

// rotate switches to the file for t's day. Caller holds mu.
func (j *Journal) rotate(t time.Time) error {
	day := t.Format(dayLayout)
	if day == j.day && j.logger != nil {
		return nil
	}
	j.closeLocked()

	f, err := os.OpenFile(DayFile(j.dir, t), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(f), zapcore.InfoLevel)
	j.file = f
	j.day = day
	j.logger = zap.New(core)
	return nil
}

func (j *Journal) Record(e types.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.Time.IsZero() {
		e.Time = j.now()
	}
	if err := j.rotate(e.Time); err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Uint64("seq", e.Seq),
		zap.String("intent_id", e.IntentID),
		zap.String("symbol", e.Symbol),
		zap.String("side", string(e.Side)),
		zap.Stringer("qty", e.Quantity),
		zap.Stringer("filled", e.Filled),
	}
	if e.BrokerOrderID != "" {
		fields = append(fields, zap.String("order_id", e.BrokerOrderID))
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", string(e.Status)))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}

	if ce := j.logger.Check(zapcore.InfoLevel, e.Event); ce != nil {
		ce.Time = e.Time
		ce.Write(fields...)
	}
	return j.logger.Sync()
}

func (j *Journal) closeLocked() {
	if j.logger != nil {
		_ = j.logger.Sync()
		j.logger = nil
	}
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}
	j.day = ""
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closeLocked()
	return nil
}
