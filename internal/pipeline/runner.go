// Package pipeline sequences the stages and records each run in a manifest.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/KaramelBytes/moodfolio/internal/logger"
	"github.com/KaramelBytes/moodfolio/internal/utils"
)

// Stage is one step of the run. Stages talk to each other only through the
// artifacts they persist.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// StageError reports the stage that aborted a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// StageRecord is one manifest entry.
type StageRecord struct {
	Name     string    `json:"name"`
	Status   string    `json:"status"`
	Started  time.Time `json:"started"`
	Duration string    `json:"duration"`
	Error    string    `json:"error,omitempty"`
}

// Manifest describes a run.
type Manifest struct {
	RunID     string        `json:"run_id"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Status    string        `json:"status"`
	Stages    []StageRecord `json:"stages"`
	Artifacts []string      `json:"artifacts,omitempty"`
}

// Runner executes stages in order.
type Runner struct {
	Logger logrus.FieldLogger
	// ManifestPath, when set, receives the manifest after the run.
	ManifestPath string
	// Artifacts lists the files a complete run produces.
	Artifacts []string
}

// Run executes stages sequentially and stops at the first failure, which
// is returned as a *StageError. Stages after the failure are recorded as
// skipped.
func (r *Runner) Run(ctx context.Context, stages []Stage) (*Manifest, error) {
	m := &Manifest{RunID: uuid.NewString(), Started: time.Now().UTC(), Status: "ok"}
	log := logger.WithComponent(r.Logger, "pipeline").WithField("run_id", m.RunID)
	log.WithField("stages", len(stages)).Info("run started")

	var runErr error
	for _, st := range stages {
		rec := StageRecord{Name: st.Name, Started: time.Now().UTC()}
		if runErr != nil {
			rec.Status = "skipped"
			m.Stages = append(m.Stages, rec)
			continue
		}
		if err := ctx.Err(); err != nil {
			runErr = &StageError{Stage: st.Name, Err: err}
			rec.Status, rec.Error = "failed", err.Error()
			m.Stages = append(m.Stages, rec)
			continue
		}
		t0 := time.Now()
		err := st.Run(ctx)
		rec.Duration = time.Since(t0).Round(time.Millisecond).String()
		entry := log.WithFields(logrus.Fields{"stage": st.Name, "elapsed": rec.Duration})
		if err != nil {
			rec.Status, rec.Error = "failed", err.Error()
			runErr = &StageError{Stage: st.Name, Err: err}
			entry.WithError(err).Error("stage failed")
		} else {
			rec.Status = "ok"
			entry.Info("stage done")
		}
		m.Stages = append(m.Stages, rec)
	}
	m.Finished = time.Now().UTC()
	if runErr != nil {
		m.Status = "failed"
	} else {
		m.Artifacts = r.Artifacts
	}
	if r.ManifestPath != "" {
		if err := writeManifest(r.ManifestPath, m); err != nil {
			log.WithError(err).Warn("manifest not written")
		}
	}
	log.WithField("status", m.Status).Info("run finished")
	return m, runErr
}

func writeManifest(path string, m *Manifest) error {
	b, err := utils.PrettyJSON(m)
	if err != nil {
		return err
	}
	return utils.SafeWriteFile(path, b)
}
