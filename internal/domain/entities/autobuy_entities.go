package entities

// AutobuyJobState represents where the daily autobuy job is in its lifecycle
type AutobuyJobState string

const (
	AutobuyJobStateUnscheduled AutobuyJobState = "unscheduled"
	AutobuyJobStateScheduled   AutobuyJobState = "scheduled"
	AutobuyJobStateRunning     AutobuyJobState = "running"
	AutobuyJobStateIdle        AutobuyJobState = "idle"
)

// AutobuyDateLayout is the layout of last_run_date
const AutobuyDateLayout = "2006-01-02"

// AutobuyPosition is one instrument bought on every run
type AutobuyPosition struct {
	Ticker string `json:"ticker"`
	Qty    int64  `json:"qty"`
}

// AutobuyPositionResult is the outcome of one position in a run
type AutobuyPositionResult struct {
	Ticker  string `json:"ticker"`
	Qty     int64  `json:"qty"`
	OK      bool   `json:"ok"`
	OrderID string `json:"order_id,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AutobuySettings is the persisted autobuy document
type AutobuySettings struct {
	Enabled     bool                    `json:"enabled"`
	Positions   []AutobuyPosition       `json:"positions"`
	DailyTime   string                  `json:"daily_time"`
	Timezone    string                  `json:"timezone"`
	LastRunDate *string                 `json:"last_run_date"`
	LastResults []AutobuyPositionResult `json:"last_results"`
}

// HasPositions reports whether at least one position is configured
func (s AutobuySettings) HasPositions() bool {
	return len(s.Positions) > 0
}

// Schedulable reports whether the daily job should be registered
func (s AutobuySettings) Schedulable() bool {
	return s.Enabled && s.HasPositions()
}

// RanOn reports whether the job already completed on the given date
func (s AutobuySettings) RanOn(date string) bool {
	return s.LastRunDate != nil && *s.LastRunDate == date
}

// AutobuyRunReport summarizes one invocation of the daily job
type AutobuyRunReport struct {
	Date       string                  `json:"date"`
	Skipped    bool                    `json:"skipped"`
	SkipReason string                  `json:"skip_reason,omitempty"`
	AccountID  string                  `json:"account_id,omitempty"`
	Results    []AutobuyPositionResult `json:"results,omitempty"`
}

// Succeeded returns how many positions were ordered successfully
func (r AutobuyRunReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK {
			n++
		}
	}
	return n
}

// Failed returns how many positions failed
func (r AutobuyRunReport) Failed() int {
	return len(r.Results) - r.Succeeded()
}
