// Package meeting turns a recorded meeting into reviewed minutes by running
// transcription, summarisation, action extraction, self-critique and human
// review as stages of a durable graph.
package meeting

import (
	"time"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/meeting/stt"
)

// State field keys. Each stage writes only the keys it owns.
const (
	KeyMeetingID    = "meeting_id"
	KeyAudioFileURL = "audio_file_url"
	KeyMeetingTitle = "meeting_title"
	KeyMeetingDate  = "meeting_date"

	KeyTranscriptSegments = "transcript_segments"
	KeyRawText            = "raw_text"
	KeySpeakers           = "speakers"
	KeyAudioDuration      = "audio_duration"

	KeyDraftSummary = "draft_summary"
	KeyKeyPoints    = "key_points"
	KeyDecisions    = "decisions"
	KeyActionItems  = "action_items"

	KeyCritique            = "critique"
	KeyCritiqueIssues      = "critique_issues"
	KeyCritiqueSuggestions = "critique_suggestions"
	KeyCritiquePassed      = "critique_passed"
	KeyCritiqueDegraded    = "critique_degraded"
	KeyRetryCount          = "retry_count"

	KeyReviewCount         = "review_count"
	KeyRequiresHumanReview = "requires_human_review"
	KeyHumanFeedback       = "human_feedback"
	KeyHumanApproved       = "human_approved"

	KeyFinalSummary     = "final_summary"
	KeyFinalKeyPoints   = "final_key_points"
	KeyFinalDecisions   = "final_decisions"
	KeyFinalActionItems = "final_action_items"
	KeyActionResults    = "action_results"

	KeyCompletedAt = "completed_at"
	KeyLLMUsage    = "llm_usage"
)

// Keys of the review decision beyond graph.DecisionAction and
// graph.DecisionFeedback. On approve they replace the drafts.
const (
	DecisionUpdatedSummary   = "updated_summary"
	DecisionUpdatedKeyPoints = "updated_key_points"
	DecisionUpdatedDecisions = "updated_decisions"
	DecisionUpdatedActions   = "updated_actions"
)

// Loop ceilings.
const (
	// MaxCritiqueRetries is how many failed critiques send the draft back
	// to summarize before it goes to a human anyway.
	MaxCritiqueRetries = 3

	// MaxReviewRounds is how many human rejections fail the job.
	MaxReviewRounds = 5
)

// Priority of an action item.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func parsePriority(s string) Priority {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p
	default:
		return PriorityMedium
	}
}

// Action item lifecycle values.
const (
	ActionPending  = "pending"
	ActionApproved = "approved"
	ActionExecuted = "executed"
	ActionFailed   = "failed"
)

// ToolCall names the tool that carries out an action item and its input.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ActionItem is a task agreed in the meeting.
type ActionItem struct {
	Content  string    `json:"content"`
	Assignee string    `json:"assignee,omitempty"`
	DueDate  string    `json:"due_date,omitempty"`
	Priority Priority  `json:"priority"`
	Status   string    `json:"status,omitempty"`
	ToolCall *ToolCall `json:"tool_call_payload,omitempty"`
}

// ActionResult records the dispatch of one action item during save.
type ActionResult struct {
	Index          int            `json:"index"`
	Tool           string         `json:"tool,omitempty"`
	Status         string         `json:"status"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Minutes are the approved result of a job.
type Minutes struct {
	MeetingID     string         `json:"meeting_id"`
	Title         string         `json:"meeting_title"`
	Date          string         `json:"meeting_date,omitempty"`
	Speakers      []string       `json:"speakers,omitempty"`
	Duration      float64        `json:"audio_duration,omitempty"`
	Summary       string         `json:"summary"`
	KeyPoints     []string       `json:"key_points"`
	Decisions     []string       `json:"decisions"`
	ActionItems   []ActionItem   `json:"action_items"`
	ActionResults []ActionResult `json:"action_results,omitempty"`
	Feedback      string         `json:"human_feedback,omitempty"`
	CompletedAt   time.Time      `json:"completed_at"`
}

// LLMUsage is the running token total of a job, kept in state.
type LLMUsage struct {
	Calls        int `json:"calls"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Input describes a meeting to process.
type Input struct {
	MeetingID    string
	AudioFileURL string
	Title        string
	Date         string
}

// InitialState builds the starting state of a job with every optional field
// at its zero value.
func InitialState(in Input) graph.State {
	return graph.State{
		KeyMeetingID:    in.MeetingID,
		KeyAudioFileURL: in.AudioFileURL,
		KeyMeetingTitle: in.Title,
		KeyMeetingDate:  in.Date,

		KeyTranscriptSegments: []stt.Segment{},
		KeyRawText:            "",
		KeySpeakers:           []string{},
		KeyAudioDuration:      0.0,

		KeyDraftSummary: "",
		KeyKeyPoints:    []string{},
		KeyDecisions:    []string{},
		KeyActionItems:  []ActionItem{},

		KeyCritique:            "",
		KeyCritiqueIssues:      []string{},
		KeyCritiqueSuggestions: []string{},
		KeyCritiquePassed:      false,
		KeyCritiqueDegraded:    false,
		KeyRetryCount:          0,

		KeyReviewCount:         0,
		KeyRequiresHumanReview: false,
		KeyHumanFeedback:       "",
		KeyHumanApproved:       false,

		KeyLLMUsage: LLMUsage{},
	}
}

// actionItems decodes the action items stored under key.
func actionItems(s graph.State, key string) ([]ActionItem, error) {
	var items []ActionItem
	if err := s.Decode(key, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func llmUsage(s graph.State) LLMUsage {
	var u LLMUsage
	_ = s.Decode(KeyLLMUsage, &u)
	return u
}
