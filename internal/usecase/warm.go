package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ChartFeed/internal/service/resample"
	applogger "ChartFeed/pkg/logger"
	"ChartFeed/pkg/queue"
)

const WarmJobType = "tiles.warm"

const defaultWarmLatest = 4

// WarmRequest asks for the meta and newest tiles of a file to be refetched.
type WarmRequest struct {
	FileID     string   `json:"file_id"`
	Timeframes []string `json:"timeframes"`
	Latest     int      `json:"latest"`
}

// WarmTilesJob refills the cache after a file update. With a shared L2 the
// fetched bodies serve every replica.
type WarmTilesJob struct {
	cache *TileCache
	l     *applogger.Logger
}

func NewWarmTilesJob(cache *TileCache, l *applogger.Logger) *WarmTilesJob {
	if l == nil {
		l = applogger.Nop()
	}
	return &WarmTilesJob{cache: cache, l: l}
}

func (j *WarmTilesJob) Name() string { return "warm-tiles" }
func (j *WarmTilesJob) Type() string { return WarmJobType }

func (j *WarmTilesJob) Handle(ctx context.Context, payload json.RawMessage) error {
	req, err := queue.Decode[WarmRequest](payload)
	if err != nil {
		return err
	}
	if req.FileID == "" {
		return errMissingFileID
	}
	latest := req.Latest
	if latest <= 0 {
		latest = defaultWarmLatest
	}

	var errs []error
	warmed := 0
	for _, raw := range req.Timeframes {
		tf := resample.Normalize(raw)
		meta, ok := j.cache.GetMeta(ctx, req.FileID, tf)
		if !ok {
			errs = append(errs, fmt.Errorf("%s/%s: %w", req.FileID, tf, ErrTileMetaUnavailable))
			continue
		}
		n := int(meta.TileCount)
		for idx := max(0, n-latest); idx < n; idx++ {
			j.cache.GetTile(ctx, req.FileID, tf, idx)
			warmed++
		}
	}

	j.l.Debug("tiles warmed", applogger.String("file", req.FileID), applogger.Int("tiles", warmed))
	return errors.Join(errs...)
}

var _ queue.Job = (*WarmTilesJob)(nil)
