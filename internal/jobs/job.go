// Package jobs runs dubbing jobs in the background and tracks their progress.
package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

type Options struct {
	PreserveBackground bool `json:"preserve_background"`
	BurnSubtitles      bool `json:"burn_subtitles"`
	VoiceClone         bool `json:"voice_clone"`
}

type Request struct {
	URL      string
	Language string
	Options  Options
}

type Job struct {
	ID       string `json:"job_id"`
	URL      string `json:"youtube_url"`
	Language string `json:"language"`
	Options

	Status      Status `json:"status"`
	Progress    int    `json:"progress"`
	TotalSteps  int    `json:"total_steps"`
	CurrentStep string `json:"current_step"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	OutputPath string   `json:"output_path,omitempty"`
	OutputURL  string   `json:"output_url,omitempty"`
	Error      string   `json:"error,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
