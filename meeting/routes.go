package meeting

import "github.com/dshills/meetgraph/graph"

// Stage names of the meeting graph.
const (
	StageTranscribe     = "transcribe"
	StageSummarize      = "summarize"
	StageExtractActions = "extract_actions"
	StageCritique       = "critique"
	StageHumanReview    = "human_review"
	StageSave           = "save"
)

// Each router names every graph.Status in its switch (checked by the
// exhaustive linter and by TestRoutersHandleEveryStatus).

func routeAfterTranscribe(s graph.State) string {
	switch s.Status() {
	case graph.StatusFailed, graph.StatusCancelled, graph.StatusCompleted:
		return graph.End
	case graph.StatusSTTComplete,
		graph.StatusStarted, graph.StatusSummarized, graph.StatusActionsExtracted,
		graph.StatusCritiqueComplete, graph.StatusPendingReview,
		graph.StatusApproved, graph.StatusRejected:
		return StageSummarize
	}
	return graph.End
}

func routeAfterCritique(s graph.State) string {
	switch s.Status() {
	case graph.StatusFailed, graph.StatusCancelled, graph.StatusCompleted:
		return graph.End
	case graph.StatusCritiqueComplete,
		graph.StatusStarted, graph.StatusSTTComplete, graph.StatusSummarized,
		graph.StatusActionsExtracted, graph.StatusPendingReview,
		graph.StatusApproved, graph.StatusRejected:
		if s.Bool(KeyCritiquePassed) {
			return StageHumanReview
		}
		if s.Int(KeyRetryCount) < MaxCritiqueRetries {
			return StageSummarize
		}
		return StageHumanReview
	}
	return graph.End
}

func routeAfterReview(s graph.State) string {
	switch s.Status() {
	case graph.StatusFailed, graph.StatusCancelled, graph.StatusCompleted:
		return graph.End
	case graph.StatusApproved, graph.StatusRejected,
		graph.StatusStarted, graph.StatusSTTComplete, graph.StatusSummarized,
		graph.StatusActionsExtracted, graph.StatusCritiqueComplete,
		graph.StatusPendingReview:
		if s.Bool(KeyHumanApproved) {
			return StageSave
		}
		if s.Int(KeyReviewCount) < MaxReviewRounds {
			return StageSummarize
		}
		return graph.End
	}
	return graph.End
}
