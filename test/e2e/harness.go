// Package e2e runs the whole pipeline in-process: real agent services wired
// over an in-memory bus, store and history index, with the LLM scripted and
// tool execution either recorded or run through a real sandbox under a
// temporary root. No broker, no Mongo, no network.
package e2e

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/kubeminder/kubeminder/pkg/actor"
	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/collab"
	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/enrich"
	"github.com/kubeminder/kubeminder/pkg/learner"
	"github.com/kubeminder/kubeminder/pkg/models"
	"github.com/kubeminder/kubeminder/pkg/planner"
	"github.com/kubeminder/kubeminder/pkg/redact"
	"github.com/kubeminder/kubeminder/pkg/sandbox"
)

// memBus routes published events synchronously to the downstream handler,
// the way the broker would deliver them, and records everything that
// crossed it. Handler calls happen outside the lock; a publish from inside
// a downstream handler must not deadlock.
type memBus struct {
	mu          sync.Mutex
	proposed    []*models.Plan
	approved    []*models.Plan
	resolutions []*models.Resolution
	verdicts    map[string][]bus.Verdict

	onProposed bus.HandlerFunc
	onApproved bus.HandlerFunc
	onResolved bus.HandlerFunc
}

func newMemBus() *memBus {
	return &memBus{verdicts: make(map[string][]bus.Verdict)}
}

func (b *memBus) PublishPlanProposed(ctx context.Context, plan *models.Plan) error {
	body, rec, err := clonePlan(plan)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.proposed = append(b.proposed, rec)
	handler := b.onProposed
	b.mu.Unlock()

	if handler != nil {
		b.record(bus.QueuePlansProposed, handler(ctx, newDelivery(body)))
	}
	return nil
}

func (b *memBus) PublishPlanApproved(ctx context.Context, plan *models.Plan) error {
	body, rec, err := clonePlan(plan)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.approved = append(b.approved, rec)
	handler := b.onApproved
	b.mu.Unlock()

	if handler != nil {
		b.record(bus.QueuePlansApproved, handler(ctx, newDelivery(body)))
	}
	return nil
}

func (b *memBus) PublishResolution(ctx context.Context, res *models.Resolution) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	var rec models.Resolution
	if err := json.Unmarshal(body, &rec); err != nil {
		return err
	}
	b.mu.Lock()
	b.resolutions = append(b.resolutions, &rec)
	handler := b.onResolved
	b.mu.Unlock()

	if handler != nil {
		b.record(bus.QueueIncidentsResolved, handler(ctx, newDelivery(body)))
	}
	return nil
}

func (b *memBus) record(queue string, v bus.Verdict) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verdicts[queue] = append(b.verdicts[queue], v)
}

func (b *memBus) Proposed() []*models.Plan {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Plan, len(b.proposed))
	copy(out, b.proposed)
	return out
}

func (b *memBus) Approved() []*models.Plan {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Plan, len(b.approved))
	copy(out, b.approved)
	return out
}

func (b *memBus) Resolutions() []*models.Resolution {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Resolution, len(b.resolutions))
	copy(out, b.resolutions)
	return out
}

func (b *memBus) Verdicts(queue string) []bus.Verdict {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Verdict, len(b.verdicts[queue]))
	copy(out, b.verdicts[queue])
	return out
}

// clonePlan serializes a plan the way the broker would, decoupling the
// recorded copy from later mutation by either side.
func clonePlan(plan *models.Plan) ([]byte, *models.Plan, error) {
	body, err := json.Marshal(plan)
	if err != nil {
		return nil, nil, err
	}
	var rec models.Plan
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, nil, err
	}
	return body, &rec, nil
}

func newDelivery(body []byte) amqp.Delivery {
	return amqp.Delivery{
		Body:        body,
		MessageId:   uuid.NewString(),
		ContentType: "application/json",
	}
}

// Pipeline is the in-process incident pipeline under test.
type Pipeline struct {
	t *testing.T

	Config   *config.Config
	Store    *memStore
	Index    *memIndex
	LLM      *scriptedLLM
	Executor *recordingExecutor // nil when a custom executor was injected
	Bus      *memBus

	Planner *planner.Service
	Collab  *collab.Service
	Actor   *actor.Service
	Learner *learner.Service
}

type pipelineSettings struct {
	cfg      *config.Config
	executor actor.Executor
	searcher enrich.WebSearcher
}

// PipelineOption configures the pipeline under test.
type PipelineOption func(*pipelineSettings)

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) PipelineOption {
	return func(s *pipelineSettings) { s.cfg = cfg }
}

// WithExecutor injects a custom step executor, e.g. a real sandbox.
func WithExecutor(exec actor.Executor) PipelineOption {
	return func(s *pipelineSettings) { s.executor = exec }
}

// WithSearcher enables the public knowledge source.
func WithSearcher(w enrich.WebSearcher) PipelineOption {
	return func(s *pipelineSettings) { s.searcher = w }
}

// DefaultPipelineConfig returns the built-in defaults for every section.
func DefaultPipelineConfig() *config.Config {
	return &config.Config{
		Bus:     config.DefaultBusConfig(),
		Store:   config.DefaultStoreConfig(),
		LLM:     config.DefaultLLMConfig(),
		Enrich:  config.DefaultEnrichConfig(),
		Planner: config.DefaultPlannerConfig(),
		Collab:  config.DefaultCollabConfig(),
		Actor:   config.DefaultActorConfig(),
		Sandbox: config.DefaultSandboxConfig(),
		Learner: config.DefaultLearnerConfig(),
		Server:  config.DefaultServerConfig(),
	}
}

// NewPipeline wires all four agents over in-memory infrastructure. The
// instruction compiler runs rules-only; plan synthesis uses the scripted
// LLM client.
func NewPipeline(t *testing.T, opts ...PipelineOption) *Pipeline {
	t.Helper()

	settings := &pipelineSettings{cfg: DefaultPipelineConfig()}
	for _, opt := range opts {
		opt(settings)
	}

	p := &Pipeline{
		t:      t,
		Config: settings.cfg,
		Store:  newMemStore(),
		Index:  newMemIndex(),
		LLM:    &scriptedLLM{},
		Bus:    newMemBus(),
	}

	exec := settings.executor
	if exec == nil {
		p.Executor = newRecordingExecutor()
		exec = p.Executor
	}

	gatherer := enrich.NewGatherer(settings.cfg.Enrich, nil, p.Index, nil, settings.searcher)
	engine := planner.NewEngine(p.LLM, settings.cfg.LLM, nil)
	p.Planner = planner.NewService(settings.cfg.Planner, engine, gatherer, p.Store, p.Bus, nil)
	p.Collab = collab.NewService(settings.cfg.Collab, p.Store, p.Bus, nil)

	compiler := actor.NewCompiler(nil, settings.cfg.Actor, nil)
	p.Actor = actor.NewService(settings.cfg.Actor, compiler, exec, p.Store, p.Bus, redact.New(), nil)
	p.Learner = learner.NewService(p.Index, p.Store, nil, nil)

	p.Bus.onProposed = p.Collab.HandleProposed
	p.Bus.onApproved = p.Actor.HandleApproved
	p.Bus.onResolved = p.Learner.HandleResolved

	return p
}

// NewSandbox builds a real sandbox rooted in a per-test temp directory.
func NewSandbox(t *testing.T, cfg *config.Config) *sandbox.Sandbox {
	t.Helper()
	cfg.Sandbox.Root = t.TempDir()
	sb, err := sandbox.New(cfg.Sandbox)
	require.NoError(t, err)
	return sb
}

// DeliverIncident feeds one raw incident payload through the planner, the
// way a monitoring producer would publish it.
func (p *Pipeline) DeliverIncident(body string) bus.Verdict {
	p.t.Helper()
	return p.Planner.HandleIncident(context.Background(), newDelivery([]byte(body)))
}

// DeliverProposed feeds a proposed plan to the collaborator, the way an
// external planner or runbook system would publish one.
func (p *Pipeline) DeliverProposed(plan *models.Plan) bus.Verdict {
	p.t.Helper()
	body, err := json.Marshal(plan)
	require.NoError(p.t, err)
	return p.Collab.HandleProposed(context.Background(), newDelivery(body))
}

// DeliverApproved feeds an approved plan straight to the actor, bypassing
// the collaborator. Used to exercise redelivery and dedup behavior.
func (p *Pipeline) DeliverApproved(plan *models.Plan) bus.Verdict {
	p.t.Helper()
	body, err := json.Marshal(plan)
	require.NoError(p.t, err)
	return p.Actor.HandleApproved(context.Background(), newDelivery(body))
}

// SeedPlan persists a plan record, the precondition for any plan arriving
// on the proposed queue.
func (p *Pipeline) SeedPlan(plan *models.Plan) {
	p.t.Helper()
	require.NoError(p.t, p.Store.SavePlan(context.Background(), plan))
}

// ShellArgs extracts the argv of a recorded shell.run invocation.
func ShellArgs(t *testing.T, call execCall) []string {
	t.Helper()
	require.Equal(t, sandbox.ToolShellRun, call.tool)
	require.Equal(t, "cmd", call.args["cmd"])
	args, ok := call.args["args"].([]string)
	require.True(t, ok, "shell args should be []string, got %T", call.args["args"])
	return args
}
