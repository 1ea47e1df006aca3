package usecase

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"ChartFeed/internal/domain/models"
	drepo "ChartFeed/internal/domain/repository"
	"ChartFeed/internal/service/resample"
	applogger "ChartFeed/pkg/logger"
)

const (
	DefaultDebounce  = 500 * time.Millisecond
	DefaultCapacity  = 5000
	DefaultBatchSize = 500
	maxSeedLimit     = 2000
)

var (
	// ErrLoadInFlight is returned when a load in the same direction is outstanding.
	ErrLoadInFlight = errors.New("load already in flight")
	// ErrNoMoreData is returned when the direction is exhausted.
	ErrNoMoreData = errors.New("no more data in direction")
)

// EvictionListener is notified after a window trims candles. It is called
// outside the window lock.
type EvictionListener interface {
	OnEvicted(ctx context.Context, ev models.EvictionEvent)
}

// EvictionListenerFunc adapts a function to EvictionListener.
type EvictionListenerFunc func(ctx context.Context, ev models.EvictionEvent)

func (f EvictionListenerFunc) OnEvicted(ctx context.Context, ev models.EvictionEvent) {
	f(ctx, ev)
}

// WindowParams identifies a window and sizes its buffer.
type WindowParams struct {
	SessionID string
	FileID    string
	Timeframe string
	Capacity  int
	BatchSize int
	Bounds    models.SessionBounds
}

type WindowOption func(*Window)

func WithDebounce(d time.Duration) WindowOption {
	return func(w *Window) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

func WithWindowLogger(l *applogger.Logger) WindowOption {
	return func(w *Window) {
		if l != nil {
			w.l = l
		}
	}
}

func WithWindowMetrics(m drepo.Metrics) WindowOption {
	return func(w *Window) {
		if m != nil {
			w.metrics = m
		}
	}
}

func WithEvictionListener(listener EvictionListener) WindowOption {
	return func(w *Window) {
		w.listener = listener
	}
}

// NearEdge carries the viewport proximity signal.
type NearEdge struct {
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// LoadResult summarises one completed load.
type LoadResult struct {
	Direction models.LoadDirection `json:"direction"`
	Received  int                  `json:"received"`
	Added     int                  `json:"added"`
	Evicted   int                  `json:"evicted"`
	HasMore   bool                 `json:"has_more"`
	Stale     bool                 `json:"stale,omitempty"`
}

// WindowState is a copy of the window taken under its lock.
type WindowState struct {
	SessionID    string               `json:"session_id"`
	FileID       string               `json:"file_id"`
	Timeframe    string               `json:"timeframe"`
	Candles      []models.Candle      `json:"candles"`
	FirstCursor  int64                `json:"first_cursor"`
	LastCursor   int64                `json:"last_cursor"`
	HasMoreLeft  bool                 `json:"has_more_left"`
	HasMoreRight bool                 `json:"has_more_right"`
	LoadingLeft  bool                 `json:"loading_left"`
	LoadingRight bool                 `json:"loading_right"`
	Capacity     int                  `json:"capacity"`
	Bounds       models.SessionBounds `json:"bounds"`
}

// Window is the capacity-bounded live buffer for one open file and timeframe.
// Candles are unique by T and strictly ascending.
type Window struct {
	pager     drepo.CandlePager
	sessionID string
	fileID    string
	capacity  int
	batchSize int
	bounds    models.SessionBounds
	debounce  time.Duration
	now       func() time.Time
	l         *applogger.Logger
	metrics   drepo.Metrics
	listener  EvictionListener

	mu           sync.Mutex
	timeframe    string
	candles      []models.Candle
	firstCursor  int64
	lastCursor   int64
	hasMoreLeft  bool
	hasMoreRight bool
	loading      [2]bool
	lastLoadAt   time.Time
	// gen changes on reseed; loads started under an older gen are dropped.
	gen uint64
}

func NewWindow(pager drepo.CandlePager, p WindowParams, opts ...WindowOption) *Window {
	if p.Capacity <= 0 {
		p.Capacity = DefaultCapacity
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}

	w := &Window{
		pager:     pager,
		sessionID: p.SessionID,
		fileID:    p.FileID,
		timeframe: resample.Normalize(p.Timeframe),
		capacity:  p.Capacity,
		batchSize: p.BatchSize,
		bounds:    p.Bounds,
		debounce:  DefaultDebounce,
		now:       time.Now,
		l:         applogger.Nop(),
		metrics:   drepo.NopMetrics{},
	}

	for _, opt := range opts {
		opt(w)
	}

	w.l = w.l.With(
		applogger.String("session", w.sessionID),
		applogger.String("file", w.fileID),
	)
	return w
}

// Seed replaces the buffer with the smart page anchored at anchor.
func (w *Window) Seed(ctx context.Context, anchor string) error {
	w.mu.Lock()
	tf, gen := w.timeframe, w.gen
	w.mu.Unlock()

	if anchor != "start" {
		anchor = "end"
	}

	start := w.now()
	page, err := w.pager.Smart(ctx, models.SmartRequest{
		FileID:    w.fileID,
		Timeframe: tf,
		Limit:     min(w.capacity, maxSeedLimit),
		Anchor:    anchor,
		Bounds:    w.bounds,
	})
	w.metrics.RecordLatency("window_seed", w.now().Sub(start).Seconds())
	if err != nil {
		w.metrics.RecordLoad("seed", "error")
		return fmt.Errorf("seed window %s/%s: %w", w.fileID, tf, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return nil
	}

	candles, crossedLeft, crossedRight := clampToBounds(page.Data, w.bounds)
	w.candles = mergeCandles(nil, candles)
	w.hasMoreLeft = page.HasMoreLeft && !crossedLeft
	w.hasMoreRight = page.HasMoreRight && !crossedRight

	w.firstCursor = cursorOr(page.FirstCursor, w.candles, true)
	w.lastCursor = cursorOr(page.LastCursor, w.candles, false)

	// the trimmed edge resumes from the kept boundary, not the server cursor
	if over := len(w.candles) - w.capacity; over > 0 {
		if anchor == "start" {
			w.candles = w.candles[:w.capacity]
			w.lastCursor = w.candles[len(w.candles)-1].T
			w.hasMoreRight = true
		} else {
			w.candles = slices.Clone(w.candles[over:])
			w.firstCursor = w.candles[0].T
			w.hasMoreLeft = true
		}
	}
	w.metrics.RecordLoad("seed", "ok")
	w.l.Debug("window seeded",
		applogger.String("tf", tf),
		applogger.Int("candles", len(w.candles)),
	)
	return nil
}

// Reseed switches the timeframe of the same file. The buffer is cleared and
// seeded again; outstanding loads for the old timeframe are discarded.
func (w *Window) Reseed(ctx context.Context, tf string, anchor string) error {
	w.mu.Lock()
	w.gen++
	w.timeframe = resample.Normalize(tf)
	w.candles = nil
	w.firstCursor, w.lastCursor = 0, 0
	w.hasMoreLeft, w.hasMoreRight = false, false
	w.loading = [2]bool{}
	w.lastLoadAt = time.Time{}
	w.mu.Unlock()

	return w.Seed(ctx, anchor)
}

// CheckAndMaybeLoad starts a load for each flagged side that is idle, not
// exhausted and outside the debounce interval, and waits for them.
func (w *Window) CheckAndMaybeLoad(ctx context.Context, edge NearEdge) []LoadResult {
	var dirs []models.LoadDirection
	if edge.Left {
		dirs = append(dirs, models.Backward)
	}
	if edge.Right {
		dirs = append(dirs, models.Forward)
	}

	w.mu.Lock()
	eligible := dirs[:0]
	for _, dir := range dirs {
		if w.eligibleLocked(dir) {
			eligible = append(eligible, dir)
		}
	}
	w.mu.Unlock()

	if len(eligible) == 0 {
		return nil
	}

	results := make([]LoadResult, len(eligible))
	ok := make([]bool, len(eligible))
	var wg sync.WaitGroup
	for i, dir := range eligible {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := w.Load(ctx, dir)
			if err != nil {
				if !errors.Is(err, ErrLoadInFlight) && !errors.Is(err, ErrNoMoreData) {
					w.l.Warn("window load failed",
						applogger.String("direction", dir.String()),
						applogger.Error(err),
					)
				}
				return
			}
			results[i], ok[i] = res, true
		}()
	}
	wg.Wait()

	out := make([]LoadResult, 0, len(results))
	for i, res := range results {
		if ok[i] {
			out = append(out, res)
		}
	}
	return out
}

// Load fetches one page from the edge cursor of dir and merges it. Loading
// and the debounce stamp are released on every exit path.
func (w *Window) Load(ctx context.Context, dir models.LoadDirection) (LoadResult, error) {
	w.mu.Lock()
	if w.loading[dir] {
		w.mu.Unlock()
		return LoadResult{Direction: dir}, ErrLoadInFlight
	}
	if !w.hasMoreLocked(dir) {
		w.mu.Unlock()
		return LoadResult{Direction: dir}, ErrNoMoreData
	}
	cursor := w.edgeCursorLocked(dir)
	tf, gen := w.timeframe, w.gen
	w.loading[dir] = true
	w.mu.Unlock()
	defer w.release(dir, gen)

	start := w.now()
	page, err := w.pager.Page(ctx, models.PageRequest{
		FileID:    w.fileID,
		Timeframe: tf,
		Limit:     w.batchSize,
		Cursor:    cursor,
		Direction: dir,
	})
	w.metrics.RecordLatency("window_load", w.now().Sub(start).Seconds())
	if err != nil {
		w.metrics.RecordLoad(dir.String(), "error")
		return LoadResult{Direction: dir}, fmt.Errorf("load %s from %d: %w", dir, cursor, err)
	}

	res, ev := w.apply(dir, gen, cursor, page)
	switch {
	case res.Stale:
		w.metrics.RecordLoad(dir.String(), "stale")
	case res.Received == 0:
		w.metrics.RecordLoad(dir.String(), "empty")
	default:
		w.metrics.RecordLoad(dir.String(), "ok")
	}

	if ev != nil {
		w.metrics.RecordEviction("window", ev.Count)
		if w.listener != nil {
			w.listener.OnEvicted(ctx, *ev)
		}
	}
	return res, nil
}

// apply merges page into the buffer. A page requested from an edge that an
// opposite trim has since moved no longer adjoins the buffer and is dropped.
func (w *Window) apply(dir models.LoadDirection, gen uint64, cursor int64, page *models.CandlePage) (LoadResult, *models.EvictionEvent) {
	incoming := page.Data.Candles()
	res := LoadResult{Direction: dir, Received: len(incoming)}

	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen || w.edgeCursorLocked(dir) != cursor {
		res.Stale = true
		res.HasMore = gen == w.gen && w.hasMoreLocked(dir)
		return res, nil
	}

	if dir == models.Backward {
		w.hasMoreLeft = page.HasMoreLeft
	} else {
		w.hasMoreRight = page.HasMoreRight
	}

	clamped, crossedLeft, crossedRight := clampToBounds(incoming, w.bounds)
	if crossedLeft {
		w.hasMoreLeft = false
	}
	if crossedRight {
		w.hasMoreRight = false
	}

	before := len(w.candles)
	w.candles = mergeCandles(w.candles, clamped)
	res.Added = len(w.candles) - before

	if dir == models.Backward {
		w.firstCursor = cursorOr(page.PrevCursor, w.candles, true)
	} else {
		w.lastCursor = cursorOr(page.NextCursor, w.candles, false)
	}

	var ev *models.EvictionEvent
	if over := len(w.candles) - w.capacity; over > 0 {
		if dir == models.Backward {
			w.candles = w.candles[:w.capacity]
			w.lastCursor = w.candles[len(w.candles)-1].T
			w.hasMoreRight = true
		} else {
			w.candles = slices.Clone(w.candles[over:])
			w.firstCursor = w.candles[0].T
			w.hasMoreLeft = true
		}
		res.Evicted = over
		ev = &models.EvictionEvent{
			SessionID: w.sessionID,
			FileID:    w.fileID,
			Timeframe: w.timeframe,
			Direction: dir,
			Count:     over,
			At:        w.now(),
		}
	}

	res.HasMore = w.hasMoreLocked(dir)
	return res, ev
}

func (w *Window) release(dir models.LoadDirection, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return
	}
	w.loading[dir] = false
	w.lastLoadAt = w.now()
}

func (w *Window) eligibleLocked(dir models.LoadDirection) bool {
	if w.loading[dir] || !w.hasMoreLocked(dir) {
		return false
	}
	return w.lastLoadAt.IsZero() || w.now().Sub(w.lastLoadAt) >= w.debounce
}

func (w *Window) edgeCursorLocked(dir models.LoadDirection) int64 {
	if dir == models.Backward {
		return w.firstCursor
	}
	return w.lastCursor
}

func (w *Window) hasMoreLocked(dir models.LoadDirection) bool {
	if dir == models.Backward {
		return w.hasMoreLeft
	}
	return w.hasMoreRight
}

func (w *Window) Snapshot() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WindowState{
		SessionID:    w.sessionID,
		FileID:       w.fileID,
		Timeframe:    w.timeframe,
		Candles:      slices.Clone(w.candles),
		FirstCursor:  w.firstCursor,
		LastCursor:   w.lastCursor,
		HasMoreLeft:  w.hasMoreLeft,
		HasMoreRight: w.hasMoreRight,
		LoadingLeft:  w.loading[models.Backward],
		LoadingRight: w.loading[models.Forward],
		Capacity:     w.capacity,
		Bounds:       w.bounds,
	}
}

// Candles returns a copy of the raw buffer.
func (w *Window) Candles() []models.Candle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.candles)
}

// Resampled aggregates the raw buffer into tf buckets.
func (w *Window) Resampled(tf string) []models.Candle {
	return resample.Resample(w.Candles(), tf)
}

func (w *Window) Timeframe() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeframe
}

func (w *Window) SessionID() string { return w.sessionID }
func (w *Window) FileID() string    { return w.fileID }

// mergeCandles unions by T with later entries winning, sorted ascending.
func mergeCandles(existing, incoming []models.Candle) []models.Candle {
	all := make([]models.Candle, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	slices.SortStableFunc(all, func(a, b models.Candle) int { return cmp.Compare(a.T, b.T) })

	out := all[:0]
	for _, c := range all {
		if n := len(out); n > 0 && out[n-1].T == c.T {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

func clampToBounds(in []models.Candle, b models.SessionBounds) (out []models.Candle, crossedLeft, crossedRight bool) {
	out = make([]models.Candle, 0, len(in))
	for _, c := range in {
		switch {
		case b.StartTs != 0 && c.T < b.StartTs:
			crossedLeft = true
		case b.EndTs != 0 && c.T > b.EndTs:
			crossedRight = true
		default:
			out = append(out, c)
		}
	}
	return out, crossedLeft, crossedRight
}

func cursorOr(cursor *int64, candles []models.Candle, first bool) int64 {
	if cursor != nil {
		return *cursor
	}
	if len(candles) == 0 {
		return 0
	}
	if first {
		return candles[0].T
	}
	return candles[len(candles)-1].T
}
