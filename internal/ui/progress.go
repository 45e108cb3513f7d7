package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/thomas-vilte/releasepipe/internal/i18n"
	"github.com/thomas-vilte/releasepipe/internal/models"
)

// ProgressRenderer prints pipeline progress events. Interactive mode shows a
// spinner for the running step; otherwise one plain line per event.
type ProgressRenderer struct {
	w           io.Writer
	t           *i18n.Translations
	interactive bool
	spinner     *SmartSpinner
}

func NewProgressRenderer(w io.Writer, t *i18n.Translations, interactive bool) *ProgressRenderer {
	return &ProgressRenderer{w: w, t: t, interactive: interactive}
}

// Render consumes events until ch is closed.
func (r *ProgressRenderer) Render(ch <-chan models.Progress) {
	for p := range ch {
		r.Handle(p)
	}
	r.stopSpinner()
}

func (r *ProgressRenderer) Handle(p models.Progress) {
	step := r.stepName(p.Step)

	switch p.Type {
	case models.ProgressStepStart:
		msg := r.t.GetMessage("run.step_running", 0, map[string]interface{}{"Step": step})
		if r.interactive {
			r.stopSpinner()
			r.spinner = NewSmartSpinner(r.w, msg)
			r.spinner.Start()
			return
		}
		_, _ = fmt.Fprintf(r.w, "==> %s\n", msg)

	case models.ProgressStepDone:
		r.stopSpinner()
		msg := r.t.GetMessage("run.step_done", 0, map[string]interface{}{
			"Step":     step,
			"Duration": p.Duration.Round(10 * time.Millisecond).String(),
		})
		PrintSuccess(r.w, msg)

	case models.ProgressStepWarning:
		r.stopSpinner()
		PrintWarning(r.w, r.t.GetMessage("run.step_warning", 0, map[string]interface{}{
			"Step":    step,
			"Message": p.Message,
		}))

	case models.ProgressStepFailed:
		r.stopSpinner()
		PrintError(r.w, r.t.GetMessage("run.step_failed", 0, map[string]interface{}{"Step": step}))

	case models.ProgressPipelineDone:
		r.stopSpinner()
	}
}

func (r *ProgressRenderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

func (r *ProgressRenderer) stepName(step models.Step) string {
	if step == "" {
		return ""
	}
	return r.t.GetMessage("step."+string(step), 0, nil)
}
