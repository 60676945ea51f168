package meeting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/graph/emit"
	"github.com/dshills/meetgraph/graph/tool"
)

// Tool names suggested for extracted action items.
const (
	ToolJiraCreateIssue     = "jira_create_issue"
	ToolCalendarCreateEvent = "calendar_create_event"
)

// Dispatch outcomes recorded in ActionResult.Status.
const (
	DispatchSuccess = "success"
	DispatchSkipped = "skipped"
	DispatchError   = "error"
)

// suggestToolCall picks a tool for an action item from keywords in its
// content. It returns nil when no tool applies.
func suggestToolCall(item ActionItem) *ToolCall {
	content := strings.ToLower(item.Content)
	switch {
	case containsAny(content, "jira", "ticket", "issue"):
		return &ToolCall{
			Tool: ToolJiraCreateIssue,
			Args: map[string]any{
				"project":  "MEETING",
				"summary":  item.Content,
				"assignee": item.Assignee,
				"priority": string(item.Priority),
			},
		}
	case containsAny(content, "meeting", "schedule", "calendar"):
		attendees := []any{}
		if item.Assignee != "" {
			attendees = append(attendees, item.Assignee)
		}
		return &ToolCall{
			Tool: ToolCalendarCreateEvent,
			Args: map[string]any{
				"summary":   item.Content,
				"attendees": attendees,
				"due_date":  item.DueDate,
			},
		}
	default:
		return nil
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// dispatchActions carries out the approved items that name a tool. Each
// call is retried under the mcp policy and keyed by job and item index, so
// a save stage repeated after a crash asks the tool for the same effect
// again rather than a new one. A failed item is recorded and does not fail
// the job; only cancellation of ctx is returned as an error.
func (p *Pipeline) dispatchActions(ctx context.Context, jobID string, items []ActionItem) ([]ActionItem, []ActionResult, error) {
	out := make([]ActionItem, len(items))
	copy(out, items)

	runner := &graph.StageRunner{Sleep: p.Sleep, Logger: p.logger(), Clock: p.Clock}
	policy := p.policies().For(graph.PolicyMCP)

	var results []ActionResult
	for i := range out {
		item := &out[i]
		if item.Status != ActionApproved {
			continue
		}

		if item.ToolCall == nil || item.ToolCall.Tool == "" {
			item.Status = ActionExecuted
			results = append(results, ActionResult{Index: i, Status: DispatchSkipped})
			continue
		}

		res := ActionResult{Index: i, Tool: item.ToolCall.Tool}
		t, ok := p.Tools[item.ToolCall.Tool]
		if !ok {
			item.Status = ActionFailed
			res.Status = DispatchError
			res.Error = "no tool registered as " + item.ToolCall.Tool
			results = append(results, p.reportDispatch(ctx, res))
			continue
		}

		key, err := graph.IdempotencyKey(jobID, i, item.ToolCall)
		if err != nil {
			item.Status = ActionFailed
			res.Status = DispatchError
			res.Error = "tool arguments are not serializable: " + err.Error()
			results = append(results, p.reportDispatch(ctx, res))
			continue
		}
		res.IdempotencyKey = key

		input := make(map[string]interface{}, len(item.ToolCall.Args)+1)
		for k, v := range item.ToolCall.Args {
			input[k] = v
		}
		input[tool.InputIdempotencyKey] = key

		call := graph.Stage{
			Name: t.Name(),
			Run: func(ctx context.Context, _ graph.State) (graph.Delta, error) {
				reply, err := t.Call(ctx, input)
				if err != nil {
					return nil, classifyToolError(err)
				}
				return graph.Delta(reply), nil
			},
		}
		reply, err := runner.Run(ctx, call, nil, policy)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			item.Status = ActionFailed
			res.Status = DispatchError
			res.Error = err.Error()
		} else {
			item.Status = ActionExecuted
			res.Status = DispatchSuccess
			res.Result = map[string]any(reply)
		}
		results = append(results, p.reportDispatch(ctx, res))
	}
	return out, results, nil
}

func (p *Pipeline) reportDispatch(ctx context.Context, res ActionResult) ActionResult {
	meta := map[string]interface{}{
		"index":           res.Index,
		"tool":            res.Tool,
		"status":          res.Status,
		"idempotency_key": res.IdempotencyKey,
	}
	if res.Error != "" {
		meta["error"] = res.Error
		p.logger().Warn("action dispatch failed",
			"job_id", graph.JobID(ctx),
			"tool", res.Tool,
			"index", res.Index,
			"error", res.Error,
		)
	}
	graph.Emit(ctx, emit.MsgActionDispatch, meta)
	return res
}

// classifyToolError maps a tool failure onto the error taxonomy.
func classifyToolError(err error) error {
	var se *tool.StatusError
	if !errors.As(err, &se) {
		return graph.Classify(err)
	}
	switch code := se.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return graph.AuthError(se.Tool+" rejected credentials", err)
	case code == http.StatusTooManyRequests:
		return graph.RateLimitError(se.Tool+" rate limited", se.RetryAfter, err)
	case se.Temporary():
		return graph.ExternalAPIError(fmt.Sprintf("%s unavailable (status %d)", se.Tool, code), err)
	default:
		return graph.ValidationError(fmt.Sprintf("%s rejected the call (status %d)", se.Tool, code), err)
	}
}
