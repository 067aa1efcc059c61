package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/verisim-io/verisim/docstore"
	"github.com/verisim-io/verisim/log"
)

// ErrWorkflowNotFound is returned by Query for unknown workflow ids.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrDuplicateWorkflow is returned by Start when the id is already taken.
var ErrDuplicateWorkflow = errors.New("workflow id already exists")

// WorkflowFunc is the body of a workflow. It publishes state snapshots
// through the handle as it progresses.
type WorkflowFunc func(ctx context.Context, h *Handle)

// Engine runs workflows and serves state queries by workflow id.
//
// Workflows execute on the engine's root context, detached from the
// submitting request: a caller disconnecting stops its waiting, not the
// work, so in-flight results stay available for future cache hits.
// Snapshots are persisted to the document store when one is configured,
// so terminal state survives a restart.
type Engine struct {
	docs   docstore.Store
	logger *log.Logger

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewEngine creates an engine. docs may be nil, in which case snapshots
// are held in memory only.
func NewEngine(docs docstore.Store, logger *log.Logger) *Engine {
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		docs:    docs,
		logger:  logger.WithComponent("task"),
		rootCtx: rootCtx,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}
}

// Start launches a workflow under the given id.
// Returns ErrDuplicateWorkflow if the id is already registered.
func (e *Engine) Start(id string, fn WorkflowFunc) (*Handle, error) {
	h := &Handle{
		id:     id,
		engine: e,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if _, exists := e.handles[id]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateWorkflow, id)
	}
	e.handles[id] = h
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(h.done)
		fn(e.rootCtx, h)
	}()

	return h, nil
}

// Handle returns the live handle for a workflow id.
func (e *Engine) Handle(id string) (*Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.handles[id]
	return h, ok
}

// Query decodes the latest published snapshot of the workflow into out.
// Falls back to the persisted snapshot when the workflow is not live
// (e.g. after a restart). Returns ErrWorkflowNotFound when neither
// exists.
func (e *Engine) Query(ctx context.Context, id string, out any) error {
	if h, ok := e.Handle(id); ok {
		if err := h.Snapshot(out); err == nil {
			return nil
		}
		// Live handle with no snapshot yet: fall through to the store.
	}

	if e.docs == nil {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	err := e.docs.Get(ctx, docstore.WorkflowKey(id), out)
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return err
}

// Close cancels all running workflows and waits for them to return.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// errNoSnapshot is returned by Snapshot before the first Publish.
var errNoSnapshot = errors.New("no snapshot published")

// Handle is the queryable surface of one running workflow.
type Handle struct {
	id     string
	engine *Engine
	done   chan struct{}

	mu       sync.RWMutex
	snapshot []byte
}

// ID returns the workflow id.
func (h *Handle) ID() string { return h.id }

// Done is closed when the workflow function returns.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Publish records a state snapshot. The state is encoded immediately, so
// readers always decode a complete, consistent copy regardless of later
// mutation by the workflow. Persistence failures are logged, not fatal:
// the live snapshot remains authoritative.
func (h *Handle) Publish(ctx context.Context, state any) {
	data, err := msgpack.Marshal(state)
	if err != nil {
		h.engine.logger.Error("snapshot encode failed", map[string]any{
			"workflow_id": h.id,
			"error":       err.Error(),
		})
		return
	}

	h.mu.Lock()
	h.snapshot = data
	h.mu.Unlock()

	if h.engine.docs != nil {
		if err := h.engine.docs.Put(ctx, docstore.WorkflowKey(h.id), msgpack.RawMessage(data)); err != nil {
			h.engine.logger.Error("snapshot persist failed", map[string]any{
				"workflow_id": h.id,
				"error":       err.Error(),
			})
		}
	}
}

// Snapshot decodes the latest published snapshot into out.
func (h *Handle) Snapshot(out any) error {
	h.mu.RLock()
	data := h.snapshot
	h.mu.RUnlock()
	if data == nil {
		return errNoSnapshot
	}
	return msgpack.Unmarshal(data, out)
}
