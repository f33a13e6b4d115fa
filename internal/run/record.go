package run

import (
	"time"

	"github.com/reviewapps-dev/azdeploy/internal/deploy"
)

// Record is the persisted state of one deployment run.
type Record struct {
	ID      string       `json:"id"`
	Target  string       `json:"target"`
	AppName string       `json:"app_name,omitempty"`
	State   deploy.State `json:"state"`

	// Set once the run reaches a terminal state.
	FailedIn   deploy.State `json:"failed_in,omitempty"`
	Hostname   string       `json:"hostname,omitempty"`
	URL        string       `json:"url,omitempty"`
	Commit     string       `json:"commit,omitempty"`
	ReleaseDir string       `json:"release_dir,omitempty"`
	Error      string       `json:"error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Log        []string   `json:"log,omitempty"`
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Log = append([]string(nil), r.Log...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
