package domain

// StoreStats holds per-store scheduling statistics for monitoring.
type StoreStats struct {
	Scheduled            int64   `json:"scheduled"`
	Publishing           int64   `json:"publishing"`
	Published            int64   `json:"published"`
	Failed               int64   `json:"failed"`
	PastDue              int64   `json:"past_due"`
	Canceled             int64   `json:"canceled"`
	AvgPublishLagSeconds float64 `json:"avg_publish_lag_seconds"`
}
