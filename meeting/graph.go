package meeting

import (
	"fmt"

	"go.jetify.com/typeid"

	"github.com/dshills/meetgraph/graph"
	"github.com/dshills/meetgraph/graph/store"
)

// Build wires the meeting stages into an engine persisting to st:
//
//	transcribe -> summarize -> extract_actions -> critique
//	critique -> summarize | human_review
//	human_review -> summarize | save | end
//	save -> end
func Build(p *Pipeline, st store.Checkpointer, opts ...graph.Option) (*graph.Engine, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	engine, err := graph.New(st, opts...)
	if err != nil {
		return nil, err
	}

	stages := []graph.Stage{
		{Name: StageTranscribe, Run: p.transcribe, Route: routeAfterTranscribe, Policy: graph.PolicySTT},
		{Name: StageSummarize, Run: p.summarize, Route: graph.Goto(StageExtractActions), Policy: graph.PolicyLLM},
		{Name: StageExtractActions, Run: p.extractActions, Route: graph.Goto(StageCritique), Policy: graph.PolicyLLM},
		{Name: StageCritique, Run: p.critique, Route: routeAfterCritique},
		{Name: StageHumanReview, Run: p.humanReview, Route: routeAfterReview},
		{Name: StageSave, Run: p.save, Route: graph.Goto(graph.End)},
	}
	for _, s := range stages {
		if err := engine.Add(s); err != nil {
			return nil, err
		}
	}
	if err := engine.StartAt(StageTranscribe); err != nil {
		return nil, err
	}
	return engine, nil
}

// NewJobID returns a sortable, prefixed job identifier such as
// "job_01h455vb4pex5vsknk084sn02q".
func NewJobID() (string, error) {
	id, err := typeid.WithPrefix("job")
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	return id.String(), nil
}
