package questions

import (
	"context"
	"sync"
)

// FakeGenerator is an in-memory Generator for tests.
type FakeGenerator struct {
	mu sync.Mutex

	PrepResult      *Prep
	PrepErr         error
	AnalysisResult  string
	AnalysisErr     error
	generateCalls  []string
	summarizeCalls []string
}

func NewFakeGenerator() *FakeGenerator {
	return &FakeGenerator{
		PrepResult: &Prep{
			Questions:       []string{"How did it start?", "What surprised you?"},
			ResearchSummary: "stub summary",
		},
		AnalysisResult: "stub analysis",
	}
}

func (f *FakeGenerator) Generate(_ context.Context, topic, _ string) (*Prep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls = append(f.generateCalls, topic)
	if f.PrepErr != nil {
		return nil, f.PrepErr
	}
	return f.PrepResult, nil
}

func (f *FakeGenerator) Summarize(_ context.Context, topic, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarizeCalls = append(f.summarizeCalls, topic)
	if f.AnalysisErr != nil {
		return "", f.AnalysisErr
	}
	return f.AnalysisResult, nil
}

// GenerateCalls returns the topics Generate was called with.
func (f *FakeGenerator) GenerateCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.generateCalls...)
}

// SummarizeCalls returns the topics Summarize was called with.
func (f *FakeGenerator) SummarizeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.summarizeCalls...)
}
