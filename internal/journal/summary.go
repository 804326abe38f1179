package journal

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"scheduled-trader/internal/types"
)

type journalLine struct {
	Event  string          `json:"event"`
	Symbol string          `json:"symbol"`
	Side   string          `json:"side"`
	Qty    decimal.Decimal `json:"qty"`
	Filled decimal.Decimal `json:"filled"`
}

type aggRow struct {
	Symbol     string
	BuyOrders  int
	BuyQty     decimal.Decimal
	SellOrders int
	SellQty    decimal.Decimal
	Rejected   int
	Cancelled  int
	FilledBuy  decimal.Decimal
	FilledSell decimal.Decimal
}

func SummaryPath(dir string, day time.Time) string {
	return filepath.Join(dir, "summary", day.Format(dayLayout)+".csv")
}

// Summarize aggregates one day's journal per symbol into a CSV and returns
// its path. A day with no journal yields "" and no error.
func Summarize(dir string, day time.Time) (string, error) {
	in, err := os.Open(DayFile(dir, day))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer in.Close()

	aggs := map[string]*aggRow{}
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		var l journalLine
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			continue
		}
		row := aggs[l.Symbol]
		if row == nil {
			row = &aggRow{Symbol: l.Symbol}
			aggs[l.Symbol] = row
		}
		switch l.Event {
		case types.EventSubmitted:
			if l.Side == string(types.SideBuy) {
				row.BuyOrders++
				row.BuyQty = row.BuyQty.Add(l.Qty)
			} else {
				row.SellOrders++
				row.SellQty = row.SellQty.Add(l.Qty)
			}
		case types.EventResolved:
			if l.Side == string(types.SideBuy) {
				row.FilledBuy = row.FilledBuy.Add(l.Filled)
			} else {
				row.FilledSell = row.FilledSell.Add(l.Filled)
			}
		case types.EventRejected:
			row.Rejected++
		case types.EventCancelled:
			row.Cancelled++
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	if len(aggs) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(aggs))
	for k := range aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	outPath := SummaryPath(dir, day)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	w := csv.NewWriter(out)
	headers := []string{"symbol", "buy_orders", "buy_qty", "sell_orders", "sell_qty", "filled_buy_qty", "filled_sell_qty", "rejected", "cancelled"}
	if err := w.Write(headers); err != nil {
		return "", err
	}
	total := aggRow{Symbol: "TOTAL"}
	for _, k := range keys {
		r := aggs[k]
		if err := w.Write(r.record()); err != nil {
			return "", err
		}
		total.BuyOrders += r.BuyOrders
		total.BuyQty = total.BuyQty.Add(r.BuyQty)
		total.SellOrders += r.SellOrders
		total.SellQty = total.SellQty.Add(r.SellQty)
		total.FilledBuy = total.FilledBuy.Add(r.FilledBuy)
		total.FilledSell = total.FilledSell.Add(r.FilledSell)
		total.Rejected += r.Rejected
		total.Cancelled += r.Cancelled
	}
	if err := w.Write(total.record()); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (r aggRow) record() []string {
	return []string{
		r.Symbol,
		strconv.Itoa(r.BuyOrders),
		r.BuyQty.String(),
		strconv.Itoa(r.SellOrders),
		r.SellQty.String(),
		r.FilledBuy.String(),
		r.FilledSell.String(),
		strconv.Itoa(r.Rejected),
		strconv.Itoa(r.Cancelled),
	}
}

// CompressOlder gzips day files last modified more than retentionDays ago.
func CompressOlder(dir string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".log" {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, err := os.Stat(gz); err == nil {
			return os.Remove(p)
		}
		if err := gzipFile(p, gz); err != nil {
			_ = os.Remove(gz)
			return err
		}
		return os.Remove(p)
	})
}

func gzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
