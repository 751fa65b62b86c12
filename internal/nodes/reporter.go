package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/zerobranding/orchestrator/internal/emit"
	"github.com/zerobranding/orchestrator/internal/session"
)

// maxRecentErrors bounds how many of the most recent errors the Reporter
// includes in a summary.
const maxRecentErrors = 5

// ArtifactSummary counts produced artifacts of one kind.
type ArtifactSummary struct {
	Kind  session.ArtifactKind
	Count int
}

// Report is the terminal summary a session produces. Delivery to the user
// is an external collaborator's job (spec.md's Telegram/webhook channel);
// the core's responsibility ends at producing this structured record and
// emitting it.
type Report struct {
	SessionID       string
	StatusMessage   string
	Succeeded       bool
	TotalSteps      int
	CompletedSteps  int
	FailedSteps     int
	TotalExecutionS float64
	RetryCount      int
	ArtifactsByKind []ArtifactSummary
	RecentErrors    []session.ErrorRecord
}

// Reporter composes a terminal summary from a finished session.
type Reporter struct {
	emitter emit.Emitter
}

// NewReporter constructs a Reporter. A nil emitter is replaced with a no-op.
func NewReporter(emitter emit.Emitter) *Reporter {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Reporter{emitter: emitter}
}

func (r *Reporter) Name() string { return "reporter" }

func (r *Reporter) Run(ctx context.Context, state session.State) Result {
	report := r.prepareReport(state)

	r.emitter.Emit(emit.Event{
		SessionID: state.SessionID,
		NodeID:    r.Name(),
		Msg:       "report",
		Meta: map[string]interface{}{
			"succeeded":       report.Succeeded,
			"completed_steps": report.CompletedSteps,
			"failed_steps":    report.FailedSteps,
			"total_steps":     report.TotalSteps,
			"retry_count":     report.RetryCount,
			"channel":         state.User.Channel,
		},
	})

	return Result{State: state, Report: report}
}

func (r *Reporter) prepareReport(state session.State) *Report {
	var completed, failed int
	var totalExecS float64
	for _, item := range state.Plan {
		switch item.Status {
		case session.ItemCompleted:
			completed++
			if item.StartedAt != nil && item.CompletedAt != nil {
				totalExecS += item.CompletedAt.Sub(*item.StartedAt).Seconds()
			}
		case session.ItemFailed:
			failed++
		}
	}

	byKind := groupArtifactsByKind(state.Artifacts)
	recent := state.RecentErrors(maxRecentErrors)

	report := &Report{
		SessionID:       state.SessionID,
		Succeeded:       state.Status == session.StatusCompleted && failed == 0,
		TotalSteps:      len(state.Plan),
		CompletedSteps:  completed,
		FailedSteps:     failed,
		TotalExecutionS: totalExecS,
		RetryCount:      state.Retries.Used,
		ArtifactsByKind: byKind,
		RecentErrors:    recent,
	}
	report.StatusMessage = r.statusMessage(state, report)
	return report
}

func (r *Reporter) statusMessage(state session.State, report *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Goal: %s\n", state.Goal)
	switch {
	case report.Succeeded:
		b.WriteString("Status: completed\n")
	case report.FailedSteps > 0:
		b.WriteString("Status: partial\n")
	default:
		b.WriteString("Status: failed\n")
	}

	fmt.Fprintf(&b, "Steps: %d/%d completed, %.1fs, %d retries\n",
		report.CompletedSteps, report.TotalSteps, report.TotalExecutionS, report.RetryCount)

	for _, a := range report.ArtifactsByKind {
		fmt.Fprintf(&b, "  %s: %d\n", a.Kind, a.Count)
	}

	for _, e := range report.RecentErrors {
		fmt.Fprintf(&b, "error[%s]: %s\n", e.Severity, e.Message)
	}

	return b.String()
}

func groupArtifactsByKind(artifacts []session.Artifact) []ArtifactSummary {
	order := []session.ArtifactKind{session.KindImage, session.KindVideo, session.KindAudio, session.KindDocument, session.KindUnknown}
	counts := make(map[session.ArtifactKind]int)
	for _, a := range artifacts {
		counts[a.Kind]++
	}

	var out []ArtifactSummary
	for _, k := range order {
		if n, ok := counts[k]; ok {
			out = append(out, ArtifactSummary{Kind: k, Count: n})
		}
	}
	return out
}
