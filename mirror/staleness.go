package mirror

import (
	"time"

	"github.com/ortelius/release-mirror/model"
)

// Evaluate compares a source asset with the target asset of the same name (nil when the
// target has none). Checks run in order and stop at the first match: missing, size
// mismatch, then a source modification more than tolerance after the target's.
func Evaluate(src model.Asset, dst *model.Asset, tolerance time.Duration) model.Verdict {
	switch {
	case dst == nil:
		return model.Missing
	case src.Size != dst.Size:
		return model.SizeMismatch
	case src.UpdatedAt.Sub(dst.UpdatedAt) > tolerance:
		return model.TimeNewer
	}
	return model.UpToDate
}
