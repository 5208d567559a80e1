package models

import "time"

// TaskStatus represents the status of a grading task
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Progress is the coarse percentage shown to polling clients
func (s TaskStatus) Progress() int {
	switch s {
	case TaskStatusProcessing:
		return 50
	case TaskStatusCompleted, TaskStatusFailed:
		return 100
	default:
		return 0
	}
}

// CanTransition reports whether a task may move from one status to another.
// Status only moves forward: queued -> processing -> completed|failed, and a
// queued task may fail without ever being picked up.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusQueued:
		return to == TaskStatusProcessing || to == TaskStatusFailed
	case TaskStatusProcessing:
		return to == TaskStatusCompleted || to == TaskStatusFailed
	default:
		return false
	}
}

// SourcesFor lists the statuses from which a task may reach to
func SourcesFor(to TaskStatus) []TaskStatus {
	var out []TaskStatus
	for _, from := range []TaskStatus{TaskStatusQueued, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Timing records how long each pipeline stage took, in seconds
type Timing struct {
	JSONGenerationSeconds float64 `json:"jsonGenerationSeconds" bson:"jsonGenerationSeconds"`
	PDFGenerationSeconds  float64 `json:"pdfGenerationSeconds" bson:"pdfGenerationSeconds"`
	TotalSeconds          float64 `json:"totalSeconds" bson:"totalSeconds"`
}

// Task represents an async essay grading task
type Task struct {
	ID            string       `json:"id" bson:"id"`
	UserID        int64        `json:"userId,omitempty" bson:"userId"`
	Images        []string     `json:"images" bson:"images"`
	Context       string       `json:"context,omitempty" bson:"context,omitempty"`
	NotifyEmail   string       `json:"notifyEmail,omitempty" bson:"notifyEmail,omitempty"`
	PointsCharged int          `json:"pointsCharged,omitempty" bson:"pointsCharged,omitempty"`
	Status        TaskStatus   `json:"status" bson:"status"`
	OriginalText  string       `json:"originalText,omitempty" bson:"originalText,omitempty"`
	Report        *EssayReport `json:"report,omitempty" bson:"report,omitempty"`
	ReportKey     string       `json:"reportKey,omitempty" bson:"reportKey,omitempty"`
	PDFKey        string       `json:"pdfKey,omitempty" bson:"pdfKey,omitempty"`
	Error         string       `json:"error,omitempty" bson:"error,omitempty"`
	Attempts      int          `json:"attempts,omitempty" bson:"attempts,omitempty"`
	Timing        *Timing      `json:"timing,omitempty" bson:"timing,omitempty"`
	CreatedAt     time.Time    `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt" bson:"updatedAt"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
}
