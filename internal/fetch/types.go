// Package fetch defines core types shared across subsystems.
package fetch

import "time"

// JobStatus represents the lifecycle state of a fetch job.
type JobStatus string

// Job status values held in the job store. JobStatusCancelled is reserved
// for a future cancellation API and is never assigned today.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Engine selects which fetch path a job uses.
type Engine string

// Supported fetch engines.
const (
	// EngineBrowser drives the shared rendering engine with an isolated
	// context per URL.
	EngineBrowser Engine = "browser"
	// EngineSession uses the domain session cache plus lightweight HTTP.
	EngineSession Engine = "session"
)

// Options captures per-job configuration knobs requested by the client.
type Options struct {
	Proxies          []string      `json:"proxies"`
	WaitMin          time.Duration `json:"-"`
	WaitMax          time.Duration `json:"-"`
	ConcurrencyLimit int           `json:"concurrency_limit"`
	RetryCount       int           `json:"retry_count"`
	Engine           Engine        `json:"engine"`
	ForceRefresh     bool          `json:"force_refresh"`
}

// Job represents the record tracked for each submitted batch request.
// Results is slot-aligned with URLs: workers write only their own index.
type Job struct {
	ID        string
	Status    JobStatus
	URLs      []string
	Options   Options
	Submitted time.Time
	Started   *time.Time
	Finished  *time.Time
	Results   []*Result
	Completed int
}

// ResultStatus is the per-URL outcome discriminator.
type ResultStatus string

// Result outcome values.
const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Result is the terminal record for one URL. Exactly one of HTMLContent or
// ErrorKind/ErrorMessage is populated, keyed by Status.
type Result struct {
	URL              string       `json:"url"`
	Status           ResultStatus `json:"status"`
	HTMLContent      string       `json:"html_content,omitempty"`
	ErrorKind        ErrorKind    `json:"error_kind,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
	ResponseTimeMs   int64        `json:"response_time_ms"`
	StatusCode       int          `json:"status_code,omitempty"`
	Attempts         int          `json:"attempts"`
	UsedSession      bool         `json:"used_session,omitempty"`
	SessionRefreshed bool         `json:"session_refreshed,omitempty"`
}

// JobView is a read-time snapshot of a job, safe to serialize while workers
// keep writing other slots.
type JobView struct {
	JobID         string     `json:"job_id"`
	Status        JobStatus  `json:"status"`
	Results       []*Result  `json:"results"`
	TotalURLs     int        `json:"total_urls"`
	CompletedURLs int        `json:"completed_urls"`
	Submitted     time.Time  `json:"submitted_at"`
	Started       *time.Time `json:"started_at,omitempty"`
	Finished      *time.Time `json:"finished_at,omitempty"`
}

// ProgressPercentage reports completion in [0, 100].
func (v JobView) ProgressPercentage() float64 {
	if v.TotalURLs == 0 {
		return 0
	}
	return float64(v.CompletedURLs) / float64(v.TotalURLs) * 100
}

// IsFinished reports whether every slot has been written.
func (v JobView) IsFinished() bool {
	return v.CompletedURLs == v.TotalURLs
}

// Cookie is one proof-of-passage cookie returned by the challenge solver.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// PageContent is the rendered payload read from either fetch path.
type PageContent struct {
	HTML       string
	Title      string
	StatusCode int
}

// Solution is what the challenge solver returns for a solved URL: rendered
// content plus the session artifact that proves passage.
type Solution struct {
	StatusCode int
	HTML       string
	Cookies    []Cookie
	UserAgent  string
}

// PageRequest carries everything needed for one navigation attempt.
type PageRequest struct {
	URL          string
	Proxy        string
	Timeout      time.Duration
	ForceRefresh bool
}
