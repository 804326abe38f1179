package signal

import (
	"context"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"scheduled-trader/internal/interfaces"
	"scheduled-trader/internal/types"
)

// File re-reads a YAML (or JSON) document of symbol: quantity on every
// evaluation, so an external strategy process can publish targets by
// rewriting the file.
type File struct {
	path string
}

var _ interfaces.Evaluator = (*File)(nil)

type targetsDoc struct {
	Targets map[string]decimal.Decimal `yaml:"targets" json:"targets"`
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Evaluate(ctx context.Context, snap types.Snapshot) (types.TargetAllocation, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, evalErr("read %s: %v", f.path, err)
	}
	var doc targetsDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, evalErr("parse %s: %v", f.path, err)
	}
	if doc.Targets == nil {
		return nil, evalErr("%s has no targets section", f.path)
	}
	target := types.TargetAllocation(doc.Targets)
	if err := validate(target); err != nil {
		return nil, err
	}
	return target, nil
}
