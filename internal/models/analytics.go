package models

// Analytics is the aggregate payload of GET /analytics. The client renders it
// as is and computes nothing from it.
type Analytics struct {
	AvgWaitTime       *float64           `json:"avg_wait_time"`
	AvgServiceTime    *float64           `json:"avg_service_time"`
	TotalTransactions int                `json:"total_transactions"`
	QueueStatus       map[string]int     `json:"queue_status"`
	StaffPerformance  []StaffPerformance `json:"staff_performance"`
	HourlyLoad        []HourlyLoad       `json:"hourly_load_heatmap"`
	CurrentTime       *LocalTime         `json:"current_time,omitempty"`
}

// StaffPerformance is a per-staff aggregate.
type StaffPerformance struct {
	Name             string   `json:"name"`
	CounterNumber    int      `json:"counter_number"`
	EfficiencyScore  float64  `json:"efficiency_score"`
	Transactions     int      `json:"transactions"`
	AvgDuration      *float64 `json:"avg_duration"`
	AvgPredicted     *float64 `json:"avg_predicted"`
	PredictionErrors *float64 `json:"avg_prediction_error,omitempty"`
}

// HourlyLoad is one cell of the hourly load heat map.
type HourlyLoad struct {
	Hour int `json:"hour"`
	Load int `json:"load"`
}
