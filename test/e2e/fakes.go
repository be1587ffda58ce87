package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/kubeminder/kubeminder/pkg/llm"
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/sandbox"
	"github.com/kubeminder/kubeminder/pkg/store"
)

// memStore is an in-memory stand-in for the plan store. It records every
// status transition so tests can assert the full lifecycle of a record.
type memStore struct {
	mu        sync.Mutex
	incidents map[string]*models.Incident
	plans     map[string]*models.Plan

	planTransitions     map[string][]models.PlanStatus
	incidentTransitions map[string][]models.IncidentStatus
}

func newMemStore() *memStore {
	return &memStore{
		incidents:           make(map[string]*models.Incident),
		plans:               make(map[string]*models.Plan),
		planTransitions:     make(map[string][]models.PlanStatus),
		incidentTransitions: make(map[string][]models.IncidentStatus),
	}
}

func (m *memStore) SaveIncident(_ context.Context, inc *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *inc
	m.incidents[inc.ID] = &saved
	return nil
}

func (m *memStore) GetIncident(_ context.Context, incidentID string) (*models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[incidentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrIncidentNotFound, incidentID)
	}
	copied := *inc
	return &copied, nil
}

func (m *memStore) UpdateIncidentStatus(_ context.Context, incidentID string, status models.IncidentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inc, ok := m.incidents[incidentID]; ok {
		inc.Status = status
	}
	m.incidentTransitions[incidentID] = append(m.incidentTransitions[incidentID], status)
	return nil
}

func (m *memStore) SavePlan(_ context.Context, plan *models.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := *plan
	m.plans[plan.ID] = &saved
	return nil
}

func (m *memStore) GetPlan(_ context.Context, planID string) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, planID)
	}
	copied := *plan
	return &copied, nil
}

func (m *memStore) UpdateStatus(_ context.Context, planID string, status models.PlanStatus, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[planID]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, planID)
	}
	plan.Status = status
	m.planTransitions[planID] = append(m.planTransitions[planID], status)
	return nil
}

func (m *memStore) PlanTransitions(planID string) []models.PlanStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PlanStatus, len(m.planTransitions[planID]))
	copy(out, m.planTransitions[planID])
	return out
}

func (m *memStore) IncidentTransitions(incidentID string) []models.IncidentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.IncidentStatus, len(m.incidentTransitions[incidentID]))
	copy(out, m.incidentTransitions[incidentID])
	return out
}

// indexUpsert is one recorded history index write.
type indexUpsert struct {
	id       string
	document string
	metadata map[string]string
}

// memIndex is an in-memory history index: scripted query matches in,
// recorded upserts out.
type memIndex struct {
	mu      sync.Mutex
	matches []models.SimilarIncident
	queries []string
	upserts []indexUpsert
}

func newMemIndex() *memIndex {
	return &memIndex{}
}

func (m *memIndex) Query(_ context.Context, text string, _ int) ([]models.SimilarIncident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, text)
	out := make([]models.SimilarIncident, len(m.matches))
	copy(out, m.matches)
	return out, nil
}

func (m *memIndex) Upsert(_ context.Context, id, document string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, indexUpsert{id: id, document: document, metadata: metadata})
	return nil
}

func (m *memIndex) Upserts() []indexUpsert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]indexUpsert, len(m.upserts))
	copy(out, m.upserts)
	return out
}

// scriptedLLM returns queued responses in order. Calls beyond the script
// fail loudly so a test cannot silently consume more completions than it
// declared.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []llm.Request
}

type scriptedResponse struct {
	content string
	err     error
}

func (s *scriptedLLM) Script(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scriptedResponse{content: content})
}

func (s *scriptedLLM) ScriptError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, scriptedResponse{err: err})
}

func (s *scriptedLLM) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *scriptedLLM) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("llm call %d is not scripted", len(s.requests))
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &llm.Response{Content: next.content, Model: "scripted", TokensUsed: 42}, nil
}

// execCall is one recorded sandbox invocation.
type execCall struct {
	tool string
	args map[string]any
}

// recordingExecutor records tool invocations and plays back scripted
// results, defaulting to success.
type recordingExecutor struct {
	mu      sync.Mutex
	calls   []execCall
	results []sandbox.Result
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{}
}

func (r *recordingExecutor) ScriptResult(res sandbox.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recordingExecutor) Execute(_ context.Context, tool string, args map[string]any) sandbox.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, execCall{tool: tool, args: args})
	if len(r.results) > 0 {
		next := r.results[0]
		r.results = r.results[1:]
		return next
	}
	return sandbox.Result{"ok": true, "stdout": "done"}
}

func (r *recordingExecutor) Calls() []execCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]execCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// staticSearcher returns the same results for every query batch and
// remembers how often it was consulted.
type staticSearcher struct {
	mu      sync.Mutex
	results []models.WebResult
	batches [][]string
}

func (s *staticSearcher) Search(_ context.Context, queries []string) ([]models.WebResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, queries)
	out := make([]models.WebResult, len(s.results))
	copy(out, s.results)
	return out, nil
}

func (s *staticSearcher) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}
