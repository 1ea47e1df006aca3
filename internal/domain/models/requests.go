package models

// Requests for the chart feed HTTP facade.

type TileMetaRequest struct {
	FileID    string `param:"file" validate:"required"`
	Timeframe string `param:"tf" validate:"required,timeframe"`
}

type TileRequest struct {
	FileID    string `param:"file" validate:"required"`
	Timeframe string `param:"tf" validate:"required,timeframe"`
	Index     int    `param:"idx" validate:"gte=0"`
	Format    string `query:"format" default:"json" validate:"oneof=json bin"`
}

type PrefetchRequest struct {
	FileID    string `param:"file" validate:"required"`
	Timeframe string `param:"tf" validate:"required,timeframe"`
	Indices   []int  `json:"indices" validate:"required,min=1,max=64,dive,gte=0"`
}

type InvalidateRequest struct {
	FileID string `param:"file" validate:"required"`
}

type OpenSessionRequest struct {
	FileID    string `json:"file_id" validate:"required"`
	Timeframe string `json:"timeframe" default:"1m" validate:"required,timeframe"`
	Capacity  int    `json:"capacity" validate:"omitempty,gte=10,lte=200000"`
	Anchor    string `json:"anchor" default:"end" validate:"oneof=start end"`
	// Start and End accept RFC3339, a date, unix seconds or unix millis.
	Start string `json:"start"`
	End   string `json:"end"`
}

type SessionViewRequest struct {
	ID        string `param:"id" validate:"required"`
	Timeframe string `query:"tf" validate:"omitempty,timeframe"`
}

type NearEdgeRequest struct {
	ID    string `param:"id" validate:"required"`
	Left  bool   `json:"left"`
	Right bool   `json:"right"`
}

type SwitchTimeframeRequest struct {
	ID        string `param:"id" validate:"required"`
	Timeframe string `json:"timeframe" validate:"required,timeframe"`
}

type SwitchFileRequest struct {
	ID        string `param:"id" validate:"required"`
	FileID    string `json:"file_id" validate:"required"`
	Timeframe string `json:"timeframe" default:"1m" validate:"required,timeframe"`
}
