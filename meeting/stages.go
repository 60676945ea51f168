package meeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/graph/model"
	"github.com/dshills/meetgraph/graph/tool"
	"github.com/dshills/meetgraph/meeting/stt"
)

// Pipeline holds the collaborators the meeting stages call. Every external
// service is injected so tests can substitute mocks.
type Pipeline struct {
	Transcriber stt.Transcriber
	LLM         model.ChatModel

	// ModelName labels usage records when the provider does not report
	// the model it used.
	ModelName string

	// Sink receives the minutes of completed jobs. Nil skips persistence.
	Sink ResultSink

	// Tools carry out approved action items, keyed by tool name.
	Tools map[string]tool.Tool

	Logger *slog.Logger

	// Clock stamps completed_at and the action prompt date. Nil uses
	// time.Now.
	Clock func() time.Time

	// Sleep waits between action dispatch retries. Nil uses a timer.
	Sleep graph.Sleeper

	// Policies supplies the mcp class used for action dispatch. Nil uses
	// graph.DefaultPolicies.
	Policies graph.Policies
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Pipeline) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock()
}

func (p *Pipeline) policies() graph.Policies {
	if p.Policies == nil {
		return graph.DefaultPolicies()
	}
	return p.Policies
}

func (p *Pipeline) validate() error {
	if p.Transcriber == nil {
		return errors.New("meeting: transcriber is required")
	}
	if p.LLM == nil {
		return errors.New("meeting: language model is required")
	}
	return nil
}

// transcribe converts the meeting audio into speaker-labelled segments.
func (p *Pipeline) transcribe(ctx context.Context, s graph.State) (graph.Delta, error) {
	url := s.String(KeyAudioFileURL)
	if url == "" {
		return nil, graph.ValidationError("audio_file_url is required", nil)
	}

	res, err := p.Transcriber.Transcribe(ctx, url)
	if err != nil {
		return nil, classifySTTError(ctx, err)
	}
	if len(res.Segments) == 0 || strings.TrimSpace(res.RawText) == "" {
		return nil, graph.AudioError("transcription produced no speech", nil)
	}

	p.logger().Info("transcription complete",
		"job_id", graph.JobID(ctx),
		"segments", len(res.Segments),
		"speakers", len(res.Speakers),
		"duration", res.Duration,
	)
	return graph.Delta{
		KeyTranscriptSegments: res.Segments,
		KeyRawText:            res.RawText,
		KeySpeakers:           res.Speakers,
		KeyAudioDuration:      res.Duration,
		graph.KeyStatus:       graph.StatusSTTComplete,
	}, nil
}

func classifySTTError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return err
	}
	var se *stt.Error
	if !errors.As(err, &se) {
		return graph.Classify(err)
	}
	switch {
	case se.Unauthorized():
		return graph.AuthError("speech service rejected credentials", err)
	case se.RateLimited():
		return graph.RateLimitError("speech service rate limited", se.RetryAfter, err)
	case se.Temporary():
		return graph.ExternalAPIError("speech service unavailable", err)
	default:
		return graph.AudioError("speech service could not transcribe the audio", err)
	}
}

// transcript renders the stored segments for a prompt, falling back to the
// raw text.
func transcript(s graph.State) string {
	var segments []stt.Segment
	if err := s.Decode(KeyTranscriptSegments, &segments); err == nil && len(segments) > 0 {
		return stt.FormatTranscript(stt.Result{Segments: segments})
	}
	return s.String(KeyRawText)
}

func info(s graph.State) meetingInfo {
	return meetingInfo{
		title:    s.String(KeyMeetingTitle),
		date:     s.String(KeyMeetingDate),
		speakers: s.Strings(KeySpeakers),
	}
}

type summaryReply struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Decisions []string `json:"decisions"`
}

// summarize drafts the summary, key points and decisions. On a second pass
// the prompt carries the failed critique and the reviewer's feedback.
func (p *Pipeline) summarize(ctx context.Context, s graph.State) (graph.Delta, error) {
	var notes revisionNotes
	if !s.Bool(KeyCritiquePassed) && s.Int(KeyRetryCount) > 0 {
		notes.issues = s.Strings(KeyCritiqueIssues)
		notes.suggestions = s.Strings(KeyCritiqueSuggestions)
	}
	if s.Int(KeyReviewCount) > 0 {
		notes.feedback = s.String(KeyHumanFeedback)
	}

	text, usage, err := p.complete(ctx, s, summarySystemPrompt, summaryPrompt(info(s), transcript(s), notes))
	if err != nil {
		return nil, err
	}
	var reply summaryReply
	if err := decodeReply(text, &reply); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return nil, graph.ResponseError("model reply has an empty summary", nil)
	}

	return graph.Delta{
		KeyDraftSummary: reply.Summary,
		KeyKeyPoints:    nonNil(reply.KeyPoints),
		KeyDecisions:    nonNil(reply.Decisions),
		KeyLLMUsage:     usage,
		graph.KeyStatus: graph.StatusSummarized,
	}, nil
}

type actionReply struct {
	ActionItems []struct {
		Content  string  `json:"content"`
		Assignee string  `json:"assignee"`
		DueDate  *string `json:"due_date"`
		Priority string  `json:"priority"`
	} `json:"action_items"`
}

// extractActions lists the action items agreed in the meeting.
func (p *Pipeline) extractActions(ctx context.Context, s graph.State) (graph.Delta, error) {
	prompt := actionPrompt(info(s), transcript(s), s.String(KeyDraftSummary))
	text, usage, err := p.complete(ctx, s, actionSystem(p.now()), prompt)
	if err != nil {
		return nil, err
	}
	var reply actionReply
	if err := decodeReply(text, &reply); err != nil {
		return nil, err
	}

	items := make([]ActionItem, 0, len(reply.ActionItems))
	for _, raw := range reply.ActionItems {
		content := strings.TrimSpace(raw.Content)
		if content == "" {
			continue
		}
		item := ActionItem{
			Content:  content,
			Assignee: strings.TrimSpace(raw.Assignee),
			Priority: parsePriority(strings.ToLower(raw.Priority)),
			Status:   ActionPending,
		}
		if item.Assignee == "" {
			item.Assignee = "unassigned"
		}
		if raw.DueDate != nil && *raw.DueDate != "null" {
			item.DueDate = *raw.DueDate
		}
		item.ToolCall = suggestToolCall(item)
		items = append(items, item)
	}

	return graph.Delta{
		KeyActionItems:  items,
		KeyLLMUsage:     usage,
		graph.KeyStatus: graph.StatusActionsExtracted,
	}, nil
}

type critiqueReply struct {
	Passed      *bool    `json:"passed"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
	Critique    string   `json:"critique"`
}

// critique reviews the draft. A failed review bumps retry_count. The model
// call is retried under the llm policy; a review that still cannot be
// obtained passes the draft on to the human reviewer.
func (p *Pipeline) critique(ctx context.Context, s graph.State) (graph.Delta, error) {
	res := p.retriedCritique(ctx, s)
	if res.Failed() && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return res.Degrade(func(se *graph.StageError) graph.Delta {
		p.logger().Warn("critique unavailable, passing draft to review",
			"job_id", graph.JobID(ctx),
			"category", se.Category,
			"error", se.Message,
		)
		return graph.Delta{
			KeyCritique:            "automatic critique unavailable: " + se.Message,
			KeyCritiqueIssues:      []string{},
			KeyCritiqueSuggestions: []string{},
			KeyCritiquePassed:      true,
			KeyCritiqueDegraded:    true,
			graph.KeyStatus:        graph.StatusCritiqueComplete,
		}
	}), nil
}

func (p *Pipeline) retriedCritique(ctx context.Context, s graph.State) graph.Result[graph.Delta] {
	runner := &graph.StageRunner{Sleep: p.Sleep, Logger: p.logger(), Clock: p.Clock}
	call := graph.Stage{
		Name: StageCritique,
		Run: func(ctx context.Context, s graph.State) (graph.Delta, error) {
			return p.critiqueOutcome(ctx, s).Unwrap()
		},
	}
	delta, err := runner.Run(ctx, call, s, p.policies().For(graph.PolicyLLM))
	if err != nil {
		return graph.Fail[graph.Delta](err)
	}
	return graph.Ok(delta)
}

// critiqueOutcome asks the model for a review of the current draft.
func (p *Pipeline) critiqueOutcome(ctx context.Context, s graph.State) graph.Result[graph.Delta] {
	items, err := actionItems(s, KeyActionItems)
	if err != nil {
		return graph.Fail[graph.Delta](graph.ValidationError("stored action items are malformed", err))
	}

	prompt := critiquePrompt(transcript(s), s.String(KeyDraftSummary),
		s.Strings(KeyKeyPoints), s.Strings(KeyDecisions), items)
	text, usage, err := p.complete(ctx, s, critiqueSystemPrompt, prompt)
	if err != nil {
		return graph.Fail[graph.Delta](err)
	}
	var reply critiqueReply
	if err := decodeReply(text, &reply); err != nil {
		return graph.Fail[graph.Delta](err)
	}
	if reply.Passed == nil {
		return graph.Fail[graph.Delta](graph.ResponseError("model review has no verdict", nil))
	}

	retries := s.Int(KeyRetryCount)
	if !*reply.Passed {
		retries++
	}
	return graph.Ok(graph.Delta{
		KeyCritique:            reply.Critique,
		KeyCritiqueIssues:      nonNil(reply.Issues),
		KeyCritiqueSuggestions: nonNil(reply.Suggestions),
		KeyCritiquePassed:      *reply.Passed,
		KeyCritiqueDegraded:    false,
		KeyRetryCount:          retries,
		KeyLLMUsage:            usage,
		graph.KeyStatus:        graph.StatusCritiqueComplete,
	})
}

// humanReview suspends the job until a reviewer approves or rejects the
// draft. The interrupt payload carries everything the reviewer needs.
func (p *Pipeline) humanReview(ctx context.Context, s graph.State) (graph.Delta, error) {
	items, err := actionItems(s, KeyActionItems)
	if err != nil {
		return nil, graph.ValidationError("stored action items are malformed", err)
	}
	payload := reviewPayload(s, items)

	decision, err := graph.Suspend(ctx, payload)
	if err != nil {
		return pendingReview(s, items), err
	}

	switch decision.Action() {
	case graph.ActionApprove:
		delta, err := approve(s, items, decision)
		if err == nil {
			return delta, nil
		}
		payload["error"] = err.Error()
	case graph.ActionReject:
		return reject(s, decision), nil
	default:
		payload["error"] = fmt.Sprintf("unknown review action %q", decision.Action())
	}

	p.logger().Warn("invalid review decision, awaiting another",
		"job_id", graph.JobID(ctx),
		"error", payload["error"],
	)
	_, err = graph.Suspend(ctx, payload)
	return pendingReview(s, items), err
}

func reviewPayload(s graph.State, items []ActionItem) map[string]any {
	return map[string]any{
		KeyMeetingID:        s.String(KeyMeetingID),
		KeyMeetingTitle:     s.String(KeyMeetingTitle),
		KeyDraftSummary:     s.String(KeyDraftSummary),
		KeyKeyPoints:        nonNil(s.Strings(KeyKeyPoints)),
		KeyDecisions:        nonNil(s.Strings(KeyDecisions)),
		KeyActionItems:      items,
		KeyCritique:         s.String(KeyCritique),
		KeyCritiqueIssues:   nonNil(s.Strings(KeyCritiqueIssues)),
		KeyCritiquePassed:   s.Bool(KeyCritiquePassed),
		KeyCritiqueDegraded: s.Bool(KeyCritiqueDegraded),
		KeyRetryCount:       s.Int(KeyRetryCount),
		KeyReviewCount:      s.Int(KeyReviewCount),
		"allowed_actions":   []string{graph.ActionApprove, graph.ActionReject},
		"editable_decision_keys": []string{
			DecisionUpdatedSummary, DecisionUpdatedKeyPoints,
			DecisionUpdatedDecisions, DecisionUpdatedActions,
		},
	}
}

// pendingReview is persisted with the interrupt: the drafts become the
// provisional final fields.
func pendingReview(s graph.State, items []ActionItem) graph.Delta {
	return graph.Delta{
		KeyFinalSummary:        s.String(KeyDraftSummary),
		KeyFinalKeyPoints:      nonNil(s.Strings(KeyKeyPoints)),
		KeyFinalDecisions:      nonNil(s.Strings(KeyDecisions)),
		KeyFinalActionItems:    items,
		KeyRequiresHumanReview: true,
		graph.KeyStatus:        graph.StatusPendingReview,
	}
}

// approve applies the reviewer's edits and marks every action item approved.
func approve(s graph.State, items []ActionItem, d graph.Decision) (graph.Delta, error) {
	summary := s.String(KeyDraftSummary)
	keyPoints := nonNil(s.Strings(KeyKeyPoints))
	decisions := nonNil(s.Strings(KeyDecisions))

	edits := graph.State(d)
	if v := edits.String(DecisionUpdatedSummary); v != "" {
		summary = v
	}
	if _, ok := d[DecisionUpdatedKeyPoints]; ok {
		if err := edits.Decode(DecisionUpdatedKeyPoints, &keyPoints); err != nil {
			return nil, fmt.Errorf("%s must be a list of strings", DecisionUpdatedKeyPoints)
		}
	}
	if _, ok := d[DecisionUpdatedDecisions]; ok {
		if err := edits.Decode(DecisionUpdatedDecisions, &decisions); err != nil {
			return nil, fmt.Errorf("%s must be a list of strings", DecisionUpdatedDecisions)
		}
	}
	if _, ok := d[DecisionUpdatedActions]; ok {
		var edited []ActionItem
		if err := edits.Decode(DecisionUpdatedActions, &edited); err != nil {
			return nil, fmt.Errorf("%s must be a list of action items", DecisionUpdatedActions)
		}
		items = edited
	}

	approved := make([]ActionItem, len(items))
	for i, item := range items {
		item.Priority = parsePriority(string(item.Priority))
		item.Status = ActionApproved
		approved[i] = item
	}

	return graph.Delta{
		KeyFinalSummary:        summary,
		KeyFinalKeyPoints:      nonNil(keyPoints),
		KeyFinalDecisions:      nonNil(decisions),
		KeyFinalActionItems:    approved,
		KeyHumanApproved:       true,
		KeyHumanFeedback:       d.Feedback(),
		KeyRequiresHumanReview: false,
		graph.KeyStatus:        graph.StatusApproved,
	}, nil
}

// reject bumps review_count. At the ceiling the job fails.
func reject(s graph.State, d graph.Decision) graph.Delta {
	rounds := s.Int(KeyReviewCount) + 1
	delta := graph.Delta{
		KeyReviewCount:         rounds,
		KeyHumanFeedback:       d.Feedback(),
		KeyHumanApproved:       false,
		KeyRequiresHumanReview: false,
		graph.KeyStatus:        graph.StatusRejected,
	}
	if rounds >= MaxReviewRounds {
		delta[graph.KeyStatus] = graph.StatusFailed
		delta[graph.KeyErrorMessage] = fmt.Sprintf("minutes rejected in %d review rounds", rounds)
		delta[graph.KeyErrorCategory] = string(graph.CategoryValidation)
	}
	return delta
}

// save carries out approved action items and hands the minutes to the sink.
func (p *Pipeline) save(ctx context.Context, s graph.State) (graph.Delta, error) {
	items, err := actionItems(s, KeyFinalActionItems)
	if err != nil {
		return nil, graph.ValidationError("stored final action items are malformed", err)
	}

	jobID := graph.JobID(ctx)
	if jobID == "" {
		jobID = s.String(KeyMeetingID)
	}
	items, results, err := p.dispatchActions(ctx, jobID, items)
	if err != nil {
		return nil, err
	}

	completedAt := p.now().UTC()
	minutes := Minutes{
		MeetingID:     s.String(KeyMeetingID),
		Title:         s.String(KeyMeetingTitle),
		Date:          s.String(KeyMeetingDate),
		Speakers:      s.Strings(KeySpeakers),
		Duration:      s.Float(KeyAudioDuration),
		Summary:       s.String(KeyFinalSummary),
		KeyPoints:     nonNil(s.Strings(KeyFinalKeyPoints)),
		Decisions:     nonNil(s.Strings(KeyFinalDecisions)),
		ActionItems:   items,
		ActionResults: results,
		Feedback:      s.String(KeyHumanFeedback),
		CompletedAt:   completedAt,
	}
	if p.Sink != nil {
		if err := p.Sink.SaveMinutes(ctx, minutes); err != nil {
			return nil, fmt.Errorf("save minutes: %w", err)
		}
	}

	if results == nil {
		results = []ActionResult{}
	}
	return graph.Delta{
		KeyFinalActionItems: items,
		KeyActionResults:    results,
		KeyCompletedAt:      completedAt.Format(time.RFC3339),
		graph.KeyStatus:     graph.StatusCompleted,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
