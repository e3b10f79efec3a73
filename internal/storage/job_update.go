package storage

import (
	"github.com/sasha9954/photostudio-core/internal/models"
)

// jobUpdateColumns lists the columns a partial job update touches, in a fixed order.
// updated_at is appended by each backend in its own time encoding.
func jobUpdateColumns(upd models.JobUpdate) ([]string, []any) {
	var cols []string
	var args []any
	if upd.State != nil {
		cols = append(cols, "state")
		args = append(args, string(*upd.State))
	}
	if upd.Progress != nil {
		cols = append(cols, "progress")
		args = append(args, clampProgress(*upd.Progress))
	}
	if upd.Result != nil {
		cols = append(cols, "result_json")
		args = append(args, string(upd.Result))
	}
	if upd.Error != nil {
		cols = append(cols, "error")
		args = append(args, *upd.Error)
	}
	if upd.Spent != nil {
		cols = append(cols, "spent")
		args = append(args, *upd.Spent)
	}
	return cols, args
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
