package console

import (
	"time"

	"github.com/dyadov103/home-hydroponics/internal/store"
)

type SendRequest struct {
	Message string `json:"message" binding:"required"`
}

type SpamRequest struct {
	Count  int    `json:"count" binding:"omitempty,min=1"`
	Settle string `json:"settle"`
}

// SpamReport summarizes one spam run. LossPercent compares rows that landed in
// humidity_data against the number of packets requested.
type SpamReport struct {
	Requested     int           `json:"requested"`
	Published     int           `json:"published"`
	PublishErrors int           `json:"publish_errors"`
	RowsBefore    int64         `json:"rows_before"`
	RowsAfter     int64         `json:"rows_after"`
	LossPercent   float64       `json:"loss_percent"`
	Duration      time.Duration `json:"duration_ns"`
}

type CountResponse struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

type TablesResponse struct {
	Tables []store.TableReport `json:"tables"`
}
