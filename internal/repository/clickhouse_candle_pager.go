package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	pkgch "ChartFeed/pkg/clickhouse"
	applogger "ChartFeed/pkg/logger"
)

const DefaultCandlesTable = "chartfeed.candles"

// CandlesSchema creates the table CHCandlePager reads from.
var CandlesSchema = []string{
	`CREATE DATABASE IF NOT EXISTS chartfeed`,
	`CREATE TABLE IF NOT EXISTS chartfeed.candles (
        file_id   LowCardinality(String),
        timeframe LowCardinality(String),
        t         Int64,
        o         Float64,
        h         Float64,
        l         Float64,
        c         Float64,
        v         Float64
    ) ENGINE = ReplacingMergeTree
    ORDER BY (file_id, timeframe, t)`,
}

// CHCandlePager implements CandlePager on a ClickHouse table ordered by
// (file_id, timeframe, t). Pages use keyset pagination on t.
type CHCandlePager struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHCandlePager(ch *pkgch.Client, table string, l *applogger.Logger) *CHCandlePager {
	if table == "" {
		table = DefaultCandlesTable
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &CHCandlePager{db: ch.DB(), table: table, l: l}
}

func (s *CHCandlePager) Page(ctx context.Context, req models.PageRequest) (*models.CandlePage, error) {
	start := time.Now()
	q, args := buildPageQuery(s.table, req)

	candles, more, err := s.query(ctx, q, args, req.Limit)
	if err != nil {
		s.l.Error("clickhouse page query error",
			applogger.String("file", req.FileID),
			applogger.String("tf", req.Timeframe),
			applogger.String("direction", req.Direction.String()),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("page candles: %w", err)
	}

	page := &models.CandlePage{}
	if req.Direction == models.Backward {
		reverse(candles)
		page.HasMoreLeft = more
		page.HasMoreRight = true
	} else {
		page.HasMoreLeft = true
		page.HasMoreRight = more
	}
	page.Data = toColumns(candles)
	if n := len(candles); n > 0 {
		first, last := candles[0].T, candles[n-1].T
		page.PrevCursor = &first
		page.NextCursor = &last
	}

	s.l.Debug("clickhouse page ok",
		applogger.String("file", req.FileID),
		applogger.String("direction", req.Direction.String()),
		applogger.Int("rows", len(candles)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return page, nil
}

func (s *CHCandlePager) Smart(ctx context.Context, req models.SmartRequest) (*models.SmartPage, error) {
	q, args := buildSmartQuery(s.table, req)
	candles, more, err := s.query(ctx, q, args, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("smart candles: %w", err)
	}

	page := &models.SmartPage{}
	if req.Anchor == "start" {
		page.HasMoreRight = more
	} else {
		reverse(candles)
		page.HasMoreLeft = more
	}

	cq, cargs := buildCountQuery(s.table, req)
	if err := s.db.QueryRowContext(ctx, cq, cargs...).Scan(&page.Total); err != nil {
		return nil, fmt.Errorf("count candles: %w", err)
	}

	page.Data = candles
	page.Returned = len(candles)
	if n := len(candles); n > 0 {
		first, last := candles[0].T, candles[n-1].T
		page.FirstCursor = &first
		page.LastCursor = &last
	}
	return page, nil
}

// query reads up to limit rows; a (limit+1)th row only signals that more exist.
func (s *CHCandlePager) query(ctx context.Context, q string, args []interface{}, limit int) ([]models.Candle, bool, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	out := make([]models.Candle, 0, limit+1)
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.T, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, false, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("rows: %w", err)
	}

	more := len(out) > limit
	if more {
		out = out[:limit]
	}
	return out, more, nil
}

func buildPageQuery(table string, req models.PageRequest) (string, []interface{}) {
	cmpOp, order := ">", "ASC"
	if req.Direction == models.Backward {
		cmpOp, order = "<", "DESC"
	}
	q := fmt.Sprintf(`SELECT t, o, h, l, c, v FROM %s
        WHERE file_id = ? AND timeframe = ? AND t %s ?
        ORDER BY t %s
        LIMIT ?`, table, cmpOp, order)
	return q, []interface{}{req.FileID, req.Timeframe, req.Cursor, req.Limit + 1}
}

func buildSmartQuery(table string, req models.SmartRequest) (string, []interface{}) {
	where, args := boundsClause(req)
	order := "DESC"
	if req.Anchor == "start" {
		order = "ASC"
	}
	q := fmt.Sprintf(`SELECT t, o, h, l, c, v FROM %s
        WHERE %s
        ORDER BY t %s
        LIMIT ?`, table, where, order)
	return q, append(args, req.Limit+1)
}

func buildCountQuery(table string, req models.SmartRequest) (string, []interface{}) {
	where, args := boundsClause(req)
	return fmt.Sprintf("SELECT toInt64(count()) FROM %s WHERE %s", table, where), args
}

func boundsClause(req models.SmartRequest) (string, []interface{}) {
	conds := []string{"file_id = ?", "timeframe = ?"}
	args := []interface{}{req.FileID, req.Timeframe}
	if req.Bounds.StartTs != 0 {
		conds = append(conds, "t >= ?")
		args = append(args, req.Bounds.StartTs)
	}
	if req.Bounds.EndTs != 0 {
		conds = append(conds, "t <= ?")
		args = append(args, req.Bounds.EndTs)
	}
	return strings.Join(conds, " AND "), args
}

func toColumns(cs []models.Candle) models.CandleColumns {
	cc := models.CandleColumns{
		T: make([]int64, len(cs)),
		O: make([]float64, len(cs)),
		H: make([]float64, len(cs)),
		L: make([]float64, len(cs)),
		C: make([]float64, len(cs)),
		V: make([]float64, len(cs)),
	}
	for i, c := range cs {
		cc.T[i], cc.O[i], cc.H[i], cc.L[i], cc.C[i], cc.V[i] = c.T, c.Open, c.High, c.Low, c.Close, c.Volume
	}
	return cc
}

func reverse(cs []models.Candle) {
	for i, j := 0, len(cs)-1; i < j; i, j = i+1, j-1 {
		cs[i], cs[j] = cs[j], cs[i]
	}
}

var _ domrepo.CandlePager = (*CHCandlePager)(nil)
