package mirror

import (
	"testing"
	"time"

	"github.com/ortelius/release-mirror/model"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tolerance := time.Minute
	src := model.Asset{Name: "app.zip", Size: 100, UpdatedAt: base}

	tests := []struct {
		name string
		dst  *model.Asset
		want model.Verdict
	}{
		{name: "missing", dst: nil, want: model.Missing},
		{name: "size differs", dst: &model.Asset{Name: "app.zip", Size: 99, UpdatedAt: base}, want: model.SizeMismatch},
		{name: "size differs and source newer", dst: &model.Asset{Name: "app.zip", Size: 99, UpdatedAt: base.Add(-time.Hour)}, want: model.SizeMismatch},
		{name: "source newer beyond tolerance", dst: &model.Asset{Name: "app.zip", Size: 100, UpdatedAt: base.Add(-2 * time.Minute)}, want: model.TimeNewer},
		{name: "source newer within tolerance", dst: &model.Asset{Name: "app.zip", Size: 100, UpdatedAt: base.Add(-30 * time.Second)}, want: model.UpToDate},
		{name: "source newer exactly at tolerance", dst: &model.Asset{Name: "app.zip", Size: 100, UpdatedAt: base.Add(-time.Minute)}, want: model.UpToDate},
		{name: "target newer", dst: &model.Asset{Name: "app.zip", Size: 100, UpdatedAt: base.Add(time.Hour)}, want: model.UpToDate},
		{name: "identical", dst: &model.Asset{Name: "app.zip", Size: 100, UpdatedAt: base}, want: model.UpToDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(src, tt.dst, tolerance))
		})
	}
}

func TestEvaluateSizeDominatesTime(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	offsets := []time.Duration{-24 * time.Hour, -time.Minute, 0, time.Minute, 24 * time.Hour}

	for _, srcSize := range []int64{0, 1, 100} {
		for _, dstSize := range []int64{0, 1, 100} {
			for _, offset := range offsets {
				src := model.Asset{Size: srcSize, UpdatedAt: base}
				dst := &model.Asset{Size: dstSize, UpdatedAt: base.Add(offset)}
				got := Evaluate(src, dst, 0)

				if srcSize != dstSize {
					assert.Equal(t, model.SizeMismatch, got, "size %d vs %d, offset %s", srcSize, dstSize, offset)
					continue
				}
				if offset < 0 {
					assert.Equal(t, model.TimeNewer, got)
				} else {
					assert.Equal(t, model.UpToDate, got)
				}
			}
		}
	}
}
