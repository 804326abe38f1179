package signal

import (
	"context"
	"time"

	"scheduled-trader/internal/api"
	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

// HTTP posts the snapshot to an external strategy service and reads back
// {"targets": {"SYMBOL": qty}}.
type HTTP struct {
	endpoint string
	client   *api.Client
}

var _ interfaces.Evaluator = (*HTTP)(nil)

func NewHTTP(endpoint, token string, timeout time.Duration) *HTTP {
	return &HTTP{
		endpoint: endpoint,
		client:   api.NewClient(api.WithTimeout(timeout), api.WithBearer(token)),
	}
}

func (h *HTTP) Evaluate(ctx context.Context, snap types.Snapshot) (types.TargetAllocation, error) {
	resp, err := h.client.POST(ctx, h.endpoint, snap)
	if err != nil {
		return nil, evalErr("call %s: %v", h.endpoint, err)
	}

	var doc targetsDoc
	if err := resp.ParseJSON(&doc); err != nil {
		return nil, evalErr("%v", err)
	}
	if doc.Targets == nil {
		return nil, evalErr("response has no targets")
	}
	target := types.TargetAllocation(doc.Targets)
	if err := validate(target); err != nil {
		return nil, err
	}
	return target, nil
}
