package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/meeting"
)

func newFlags(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func requireJob(jobID string) error {
	if jobID == "" {
		return errors.New("-job is required")
	}
	return nil
}

func cmdStart(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "start")
	audio := fs.String("audio", "", "URL of the meeting recording (required)")
	title := fs.String("title", "", "meeting title")
	date := fs.String("date", "", "meeting date, YYYY-MM-DD")
	meetingID := fs.String("meeting", "", "meeting id (defaults to the job id)")
	jobID := fs.String("job", "", "job id (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *audio == "" {
		return errors.New("-audio is required")
	}

	if *jobID == "" {
		id, err := meeting.NewJobID()
		if err != nil {
			return err
		}
		*jobID = id
	}
	if *meetingID == "" {
		*meetingID = *jobID
	}

	color.New(color.FgBlue).Fprintf(a.out, "Starting job %s\n", *jobID)
	state, err := a.engine.Start(ctx, *jobID, meeting.InitialState(meeting.Input{
		MeetingID:    *meetingID,
		AudioFileURL: *audio,
		Title:        *title,
		Date:         *date,
	}))
	if err != nil {
		return err
	}
	return a.report(ctx, *jobID, state)
}

func cmdResume(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "resume")
	jobID := fs.String("job", "", "job id (required)")
	action := fs.String("action", "", "approve or reject")
	feedback := fs.String("feedback", "", "reviewer feedback")
	summary := fs.String("summary", "", "replacement summary, applied on approve")
	decisionFile := fs.String("decision", "", "JSON file holding the full decision")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireJob(*jobID); err != nil {
		return err
	}

	decision, err := buildDecision(*decisionFile, *action, *feedback, *summary)
	if err != nil {
		return err
	}

	state, err := a.engine.Resume(ctx, *jobID, decision)
	if errors.Is(err, graph.ErrAlreadyRunning) {
		return fmt.Errorf("job %s is running, try again when it stops", *jobID)
	}
	if errors.Is(err, graph.ErrNotSuspended) {
		return fmt.Errorf("job %s is not awaiting review", *jobID)
	}
	if err != nil {
		return err
	}
	return a.report(ctx, *jobID, state)
}

// buildDecision reads the decision file, when given, and lets the flags
// override its action, feedback and summary.
func buildDecision(path, action, feedback, summary string) (graph.Decision, error) {
	decision := graph.Decision{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read decision: %w", err)
		}
		if err := json.Unmarshal(data, &decision); err != nil {
			return nil, fmt.Errorf("parse decision %s: %w", path, err)
		}
	}
	if action != "" {
		decision[graph.DecisionAction] = strings.ToLower(action)
	}
	if feedback != "" {
		decision[graph.DecisionFeedback] = feedback
	}
	if summary != "" {
		decision[meeting.DecisionUpdatedSummary] = summary
	}

	switch decision.Action() {
	case graph.ActionApprove, graph.ActionReject:
		return decision, nil
	case "":
		return nil, errors.New("-action approve|reject is required")
	default:
		return nil, fmt.Errorf("unknown action %q", decision.Action())
	}
}

func cmdInspect(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "inspect")
	jobID := fs.String("job", "", "job id (required)")
	asJSON := fs.Bool("json", false, "print the raw state and interrupt as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireJob(*jobID); err != nil {
		return err
	}

	state, pending, err := a.engine.Inspect(ctx, *jobID)
	if err != nil {
		return err
	}
	if *asJSON {
		return printJSON(a.out, map[string]any{"state": state, "interrupt": pending})
	}
	printJob(a.out, *jobID, state, pending)
	return nil
}

func cmdCancel(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "cancel")
	jobID := fs.String("job", "", "job id (required)")
	reason := fs.String("reason", "", "reason recorded in the job")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireJob(*jobID); err != nil {
		return err
	}
	if err := a.engine.Cancel(ctx, *jobID, *reason); err != nil {
		return err
	}
	color.New(color.FgMagenta).Fprintf(a.out, "Cancelled %s\n", *jobID)
	return nil
}

func cmdRecover(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "recover")
	jobID := fs.String("job", "", "job id (all interrupted jobs when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *jobID != "" {
		state, err := a.engine.Recover(ctx, *jobID)
		if err != nil {
			return err
		}
		return a.report(ctx, *jobID, state)
	}

	ids, err := a.engine.RecoverAll(ctx)
	for _, id := range ids {
		info, ierr := a.engine.Info(ctx, id)
		if ierr != nil {
			continue
		}
		fmt.Fprintf(a.out, "%s %s\n", id, statusColor(info.Status).Sprint(info.Status))
	}
	if len(ids) == 0 && err == nil {
		fmt.Fprintln(a.out, "nothing to recover")
	}
	return err
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := newFlags(a, "list")
	limit := fs.Int("limit", 20, "maximum number of jobs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	jobs, err := a.engine.List(ctx, *limit)
	if err != nil {
		return err
	}
	printJobs(a.out, jobs)
	return nil
}

// report prints the job after a run along with the tokens it used.
func (a *app) report(ctx context.Context, jobID string, state graph.State) error {
	_, pending, err := a.engine.Inspect(ctx, jobID)
	if err != nil {
		return err
	}
	printJob(a.out, jobID, state, pending)

	if u := a.usage.JobUsage(jobID); u.Calls > 0 {
		fmt.Fprintf(a.out, "\nLLM: %d calls, %d input / %d output tokens, $%.4f\n",
			u.Calls, u.InputTokens, u.OutputTokens, u.CostUSD)
	}
	if state.Status() == graph.StatusCompleted {
		color.New(color.FgGreen).Fprintf(a.out, "Minutes written to %s\n", a.cfg.MinutesDir)
	}
	return nil
}
