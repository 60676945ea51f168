package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	json "github.com/goccy/go-json"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/meeting"
)

func statusColor(st graph.Status) *color.Color {
	switch st {
	case graph.StatusCompleted:
		return color.New(color.FgGreen, color.Bold)
	case graph.StatusFailed:
		return color.New(color.FgRed, color.Bold)
	case graph.StatusCancelled:
		return color.New(color.FgMagenta)
	case graph.StatusPendingReview:
		return color.New(color.FgYellow, color.Bold)
	case graph.StatusStarted, graph.StatusSTTComplete, graph.StatusSummarized,
		graph.StatusActionsExtracted, graph.StatusCritiqueComplete,
		graph.StatusApproved, graph.StatusRejected:
		return color.New(color.FgCyan)
	}
	return color.New(color.Reset)
}

// printJob renders the parts of a job's state a reviewer cares about.
func printJob(w io.Writer, jobID string, s graph.State, pending *graph.Interrupt) {
	st := s.Status()
	fmt.Fprintf(w, "Job:    %s\n", jobID)
	fmt.Fprintf(w, "Status: %s\n", statusColor(st).Sprint(st))
	if title := s.String(meeting.KeyMeetingTitle); title != "" {
		fmt.Fprintf(w, "Title:  %s\n", title)
	}
	if msg := s.String(graph.KeyErrorMessage); msg != "" && st.Terminal() {
		fmt.Fprintf(w, "Error:  %s (%s)\n", color.RedString(msg), s.String(graph.KeyErrorCategory))
	}
	fmt.Fprintf(w, "Rounds: critique %d/%d, review %d/%d\n",
		s.Int(meeting.KeyRetryCount), meeting.MaxCritiqueRetries,
		s.Int(meeting.KeyReviewCount), meeting.MaxReviewRounds)

	summary := s.String(meeting.KeyFinalSummary)
	if summary == "" {
		summary = s.String(meeting.KeyDraftSummary)
	}
	if summary != "" {
		color.New(color.Bold).Fprintln(w, "\nSummary")
		fmt.Fprintln(w, summary)
	}
	printList(w, "Key points", s.Strings(meeting.KeyKeyPoints))
	printList(w, "Decisions", s.Strings(meeting.KeyDecisions))

	var items []meeting.ActionItem
	key := meeting.KeyActionItems
	if _, ok := s[meeting.KeyFinalActionItems]; ok {
		key = meeting.KeyFinalActionItems
	}
	if err := s.Decode(key, &items); err == nil && len(items) > 0 {
		color.New(color.Bold).Fprintln(w, "\nAction items")
		for i, it := range items {
			due := it.DueDate
			if due == "" {
				due = "no date"
			}
			fmt.Fprintf(w, "  %d. [%s] %s (%s, %s) %s\n", i+1, it.Priority, it.Content, it.Assignee, due, it.Status)
		}
	}

	if s.Bool(meeting.KeyCritiqueDegraded) {
		color.New(color.FgYellow).Fprintln(w, "\nAutomatic critique was unavailable for this draft.")
	} else if c := s.String(meeting.KeyCritique); c != "" {
		color.New(color.Bold).Fprintln(w, "\nCritique")
		fmt.Fprintln(w, c)
	}

	if pending != nil {
		color.New(color.FgYellow).Fprintf(w, "\nAwaiting review since %s (interrupt %s)\n",
			pending.CreatedAt.Format("2006-01-02 15:04:05"), pending.ID)
		if msg, ok := pending.Payload["error"].(string); ok {
			fmt.Fprintf(w, "Previous decision rejected: %s\n", color.RedString(msg))
		}
		fmt.Fprintf(w, "Run: meetgraph resume -job %s -action approve|reject [-feedback text]\n", jobID)
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	color.New(color.Bold).Fprintln(w, "\n"+title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printJobs(w io.Writer, jobs []graph.JobInfo) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "no jobs")
		return
	}
	fmt.Fprintf(w, "%-32s %-18s %-16s %5s  %s\n", "JOB", "STATUS", "STAGE", "STEP", "UPDATED")
	for _, j := range jobs {
		status := string(j.Status)
		pad := strings.Repeat(" ", max(0, 18-len(status)))
		fmt.Fprintf(w, "%-32s %s%s %-16s %5d  %s\n",
			j.JobID, statusColor(j.Status).Sprint(status), pad, j.Stage, j.Step,
			j.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
}
