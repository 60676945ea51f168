package meeting

import (
	"context"
	"errors"
	"testing"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/graph/tool"
)

func approvedItems() []ActionItem {
	return []ActionItem{
		{
			Content:  "Open a ticket for the login bug",
			Priority: PriorityHigh,
			Status:   ActionApproved,
			ToolCall: &ToolCall{Tool: ToolJiraCreateIssue, Args: map[string]any{"project": "MEETING"}},
		},
		{Content: "Share the slides", Priority: PriorityLow, Status: ActionApproved},
		{
			Content:  "Book the retro",
			Priority: PriorityMedium,
			Status:   ActionPending,
			ToolCall: &ToolCall{Tool: ToolCalendarCreateEvent},
		},
	}
}

func TestDispatchActions(t *testing.T) {
	jira := &tool.MockTool{ToolName: ToolJiraCreateIssue, Responses: []map[string]interface{}{{"issue_key": "MEET-7"}}}
	p := &Pipeline{Tools: map[string]tool.Tool{ToolJiraCreateIssue: jira}, Sleep: noSleep, Logger: quietLogger()}

	items, results, err := p.dispatchActions(context.Background(), "job-1", approvedItems())
	if err != nil {
		t.Fatal(err)
	}
	if items[0].Status != ActionExecuted || items[1].Status != ActionExecuted {
		t.Errorf("approved items = %s, %s, want executed", items[0].Status, items[1].Status)
	}
	if items[2].Status != ActionPending {
		t.Errorf("unapproved item status = %s, want untouched", items[2].Status)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Status != DispatchSuccess || results[0].Result["issue_key"] != "MEET-7" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].Status != DispatchSkipped {
		t.Errorf("second result = %+v", results[1])
	}

	input := jira.Calls[0].Input
	if input["project"] != "MEETING" || input[tool.InputIdempotencyKey] != results[0].IdempotencyKey {
		t.Errorf("tool input = %v", input)
	}
}

func TestDispatchKeysAreStable(t *testing.T) {
	jira := &tool.MockTool{ToolName: ToolJiraCreateIssue}
	p := &Pipeline{Tools: map[string]tool.Tool{ToolJiraCreateIssue: jira}, Sleep: noSleep, Logger: quietLogger()}

	for _, job := range []string{"job-1", "job-1", "job-2"} {
		if _, _, err := p.dispatchActions(context.Background(), job, approvedItems()); err != nil {
			t.Fatal(err)
		}
	}
	keys := jira.Keys()
	if len(keys) != 3 {
		t.Fatalf("keys = %v", keys)
	}
	if keys[0] != keys[1] {
		t.Error("repeated dispatch for the same job should reuse the key")
	}
	if keys[0] == keys[2] {
		t.Error("different jobs must not share a key")
	}
}

func TestDispatchRetriesAndFailures(t *testing.T) {
	unavailable := &tool.StatusError{Tool: ToolJiraCreateIssue, StatusCode: 503}

	tests := []struct {
		name   string
		tools  map[string]tool.Tool
		status string
		calls  int
	}{
		{
			name:   "transient then ok",
			tools:  map[string]tool.Tool{ToolJiraCreateIssue: &tool.MockTool{ToolName: ToolJiraCreateIssue, Errs: []error{unavailable, unavailable}}},
			status: ActionExecuted,
			calls:  3,
		},
		{
			name:   "always unavailable",
			tools:  map[string]tool.Tool{ToolJiraCreateIssue: &tool.MockTool{ToolName: ToolJiraCreateIssue, Err: unavailable}},
			status: ActionFailed,
			calls:  3,
		},
		{
			name:   "rejected",
			tools:  map[string]tool.Tool{ToolJiraCreateIssue: &tool.MockTool{ToolName: ToolJiraCreateIssue, Err: &tool.StatusError{Tool: ToolJiraCreateIssue, StatusCode: 422}}},
			status: ActionFailed,
			calls:  1,
		},
		{
			name:   "no such tool",
			tools:  map[string]tool.Tool{},
			status: ActionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Pipeline{Tools: tt.tools, Sleep: noSleep, Logger: quietLogger()}
			items, results, err := p.dispatchActions(context.Background(), "job", approvedItems()[:1])
			if err != nil {
				t.Fatal(err)
			}
			if items[0].Status != tt.status {
				t.Errorf("status = %s, want %s", items[0].Status, tt.status)
			}
			if tt.status == ActionFailed && (results[0].Status != DispatchError || results[0].Error == "") {
				t.Errorf("result = %+v, want error", results[0])
			}
			if m, ok := tt.tools[ToolJiraCreateIssue].(*tool.MockTool); ok && m.CallCount() != tt.calls {
				t.Errorf("calls = %d, want %d", m.CallCount(), tt.calls)
			}
		})
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pipeline{Tools: map[string]tool.Tool{ToolJiraCreateIssue: &tool.MockTool{ToolName: ToolJiraCreateIssue}}, Sleep: noSleep}

	if _, _, err := p.dispatchActions(ctx, "job", approvedItems()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		code     int
		category graph.Category
		retry    bool
	}{
		{401, graph.CategoryAuth, false},
		{429, graph.CategoryExternalAPI, true},
		{502, graph.CategoryExternalAPI, true},
		{400, graph.CategoryValidation, false},
	}
	for _, tt := range tests {
		var se *graph.StageError
		if !errors.As(classifyToolError(&tool.StatusError{Tool: "t", StatusCode: tt.code}), &se) {
			t.Fatalf("%d: expected *StageError", tt.code)
		}
		if se.Category != tt.category || se.Recoverable != tt.retry {
			t.Errorf("%d: got %s recoverable=%v", tt.code, se.Category, se.Recoverable)
		}
	}
}

func TestSuggestToolCall(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"File a JIRA issue for the crash", ToolJiraCreateIssue},
		{"Raise a ticket with IT", ToolJiraCreateIssue},
		{"Schedule the follow-up meeting", ToolCalendarCreateEvent},
		{"Update the calendar", ToolCalendarCreateEvent},
		{"Write the press release", ""},
	}
	for _, tt := range tests {
		got := suggestToolCall(ActionItem{Content: tt.content, Assignee: "Kim", Priority: PriorityHigh})
		name := ""
		if got != nil {
			name = got.Tool
		}
		if name != tt.want {
			t.Errorf("suggestToolCall(%q) = %q, want %q", tt.content, name, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]Priority{"low": PriorityLow, "urgent": PriorityUrgent, "": PriorityMedium, "ASAP": PriorityMedium} {
		if got := parsePriority(in); got != want {
			t.Errorf("parsePriority(%q) = %q, want %q", in, got, want)
		}
	}
}
