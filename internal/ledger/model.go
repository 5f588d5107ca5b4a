package ledger

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Models is the list of tables migrated into a ledger database.
var Models = []interface{}{
	&Session{},
	&JobRecord{},
	&StatusSnapshot{},
}

// Session is one recorder run.
type Session struct {
	ID              string         `json:"id" gorm:"primaryKey;size:36"`
	StartedAt       time.Time      `json:"startedAt" gorm:"index:idx_session_started"`
	EndedAt         *time.Time     `json:"endedAt"`
	RecorderVersion string         `json:"recorderVersion" gorm:"size:64"`
	Config          datatypes.JSON `json:"config"`
}

func (*Session) TableName() string {
	return "sessions"
}

// JobRecord is one finished persistence or capture job.
type JobRecord struct {
	gorm.Model
	SessionID  string         `json:"sessionId" gorm:"size:36;index:idx_job_session"`
	Engine     string         `json:"engine" gorm:"size:16;index:idx_job_engine"`
	Kind       string         `json:"kind" gorm:"size:16"`
	JobID      uint64         `json:"jobId"`
	Target     string         `json:"target" gorm:"size:1024"`
	Items      int            `json:"items"`
	Bytes      int64          `json:"bytes"`
	DurationMs float64        `json:"durationMs"`
	Failed     bool           `json:"failed" gorm:"index:idx_job_failed"`
	Error      string         `json:"error" gorm:"size:1024"`
	SpawnedAt  time.Time      `json:"spawnedAt"`
	FinishedAt time.Time      `json:"finishedAt" gorm:"index:idx_job_finished"`
	Meta       datatypes.JSON `json:"meta"`
}

func (*JobRecord) TableName() string {
	return "job_records"
}

// StatusSnapshot is a periodic copy of the session status line.
type StatusSnapshot struct {
	Time            time.Time `json:"time" gorm:"index:idx_status_time"`
	SessionID       string    `json:"sessionId" gorm:"size:36;index:idx_status_session"`
	Tick            uint64    `json:"tick"`
	RecordJobs      int       `json:"recordJobs"`
	CaptureJobs     int       `json:"captureJobs"`
	BufferedSamples int       `json:"bufferedSamples"`
	Health          string    `json:"health" gorm:"size:8"`
}

func (*StatusSnapshot) TableName() string {
	return "status_snapshots"
}
