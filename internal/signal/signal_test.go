package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"scheduled-trader/internal/types"
)

func snapshot() types.Snapshot {
	return types.Snapshot{Account: types.AccountSnapshot{
		Positions: []types.Position{
			{Symbol: "INFY", Quantity: decimal.NewFromInt(4)},
			{Symbol: "TCS", Quantity: decimal.NewFromInt(-2)},
		},
		BuyingPower: decimal.NewFromInt(1000),
	}}
}

func TestHoldKeepsPositions(t *testing.T) {
	target, err := Hold{}.Evaluate(context.Background(), snapshot())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(target) != 2 || !target["INFY"].Equal(decimal.NewFromInt(4)) || !target["TCS"].Equal(decimal.NewFromInt(-2)) {
		t.Errorf("unexpected target %v", target)
	}
}

func TestStaticReturnsCopy(t *testing.T) {
	s := NewStatic(map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(10)})
	first, _ := s.Evaluate(context.Background(), snapshot())
	first["AAPL"] = decimal.Zero

	second, _ := s.Evaluate(context.Background(), snapshot())
	if !second["AAPL"].Equal(decimal.NewFromInt(10)) {
		t.Errorf("caller mutation leaked into static targets: %v", second)
	}
}

func TestFileReadsTargetsEachTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	f := NewFile(path)

	if _, err := f.Evaluate(context.Background(), snapshot()); !errors.Is(err, types.ErrEvaluation) {
		t.Fatalf("expected ErrEvaluation for missing file, got %v", err)
	}

	if err := os.WriteFile(path, []byte("targets:\n  AAPL: 10\n  MSFT: \"2.5\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	target, err := f.Evaluate(context.Background(), snapshot())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !target["AAPL"].Equal(decimal.NewFromInt(10)) || !target["MSFT"].Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("unexpected target %v", target)
	}

	if err := os.WriteFile(path, []byte("targets: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	target, err = f.Evaluate(context.Background(), snapshot())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(target) != 0 {
		t.Errorf("expected empty allocation, got %v", target)
	}
}

func TestFileWithoutTargetsSectionFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	if err := os.WriteFile(path, []byte("other: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path).Evaluate(context.Background(), snapshot()); !errors.Is(err, types.ErrEvaluation) {
		t.Errorf("expected ErrEvaluation, got %v", err)
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var snap types.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		// Double whatever is held.
		targets := map[string]string{}
		for _, p := range snap.Account.Positions {
			targets[p.Symbol] = p.Quantity.Mul(decimal.NewFromInt(2)).String()
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"targets": targets})
	}))
	defer srv.Close()

	target, err := NewHTTP(srv.URL, "secret", time.Second).Evaluate(context.Background(), snapshot())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !target["INFY"].Equal(decimal.NewFromInt(8)) || !target["TCS"].Equal(decimal.NewFromInt(-4)) {
		t.Errorf("unexpected target %v", target)
	}

	_, err = NewHTTP(srv.URL, "wrong", time.Second).Evaluate(context.Background(), snapshot())
	if !errors.Is(err, types.ErrEvaluation) {
		t.Errorf("expected ErrEvaluation on 401, got %v", err)
	}
}
