package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/morezero/cim-broker/pkg/cim"
	"github.com/morezero/cim-broker/pkg/message"
	"github.com/morezero/cim-broker/pkg/opctx"
	"github.com/morezero/cim-broker/pkg/provider"
)

const basicLogPrefix = "router:basic"

const defaultIdleTimeout = 5 * time.Minute

// BasicParams configures a Basic router.
type BasicParams struct {
	Catalog     *provider.Catalog
	Callbacks   Callbacks
	ChunkSize   int
	IdleTimeout time.Duration
	Clock       func() time.Time
}

// Basic hosts one in-process provider manager per provider manager path,
// created on first use.
type Basic struct {
	catalog *provider.Catalog
	cb      Callbacks
	chunk   int
	idle    time.Duration
	now     func() time.Time

	mu       sync.Mutex
	managers map[string]*provider.Manager
	// subscriptionInitComplete is replayed to managers created later.
	subscriptionInitComplete bool
}

func NewBasic(p BasicParams) *Basic {
	b := &Basic{
		catalog:  p.Catalog,
		cb:       p.Callbacks,
		chunk:    p.ChunkSize,
		idle:     p.IdleTimeout,
		now:      p.Clock,
		managers: make(map[string]*provider.Manager),
	}
	if b.catalog == nil {
		b.catalog = provider.NewCatalog()
	}
	if b.idle <= 0 {
		b.idle = defaultIdleTimeout
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func providerID(req *message.Message) *opctx.ProviderID {
	pid, _ := opctx.Get[*opctx.ProviderID](req.OperationContext)
	return pid
}

func (b *Basic) ProcessMessage(ctx context.Context, req *message.Message) (*message.Message, error) {
	switch req.Type {
	case message.TypeEnableModuleRequest, message.TypeDisableModuleRequest:
		return b.fanOut(ctx, req, moduleStatusDefault(req))
	}
	if IsBroadcast(req.Type) {
		b.mu.Lock()
		switch req.Type {
		case message.TypeSubscriptionInitCompleteRequest:
			b.subscriptionInitComplete = true
		case message.TypeIndicationServiceDisabledRequest:
			b.subscriptionInitComplete = false
		}
		b.mu.Unlock()
		return b.fanOut(ctx, req, message.BuildResponse(req))
	}

	pid := providerID(req)
	if pid == nil || pid.ProvMgrPath == "" {
		return nil, cim.Errorf(cim.StatusFailed, "%s has no provider manager path", req.Type)
	}
	resp := b.manager(ctx, pid.ProvMgrPath).ProcessMessage(ctx, req)
	if resp == nil {
		return nil, cim.Errorf(cim.StatusFailed, "%s is not a request", req.Type)
	}
	return resp, nil
}

// fanOut sends req to every manager. The last response wins; def answers
// when there are no managers.
func (b *Basic) fanOut(ctx context.Context, req, def *message.Message) (*message.Message, error) {
	resp := def
	var errs *multierror.Error
	for _, m := range b.snapshot() {
		r := m.ProcessMessage(ctx, req)
		if r == nil {
			continue
		}
		if err := r.Err(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s - %s: %w", basicLogPrefix, m.Path(), err))
		}
		resp = r
	}
	if err := errs.ErrorOrNil(); err != nil {
		slog.Warn(fmt.Sprintf("%s - %s failed in some provider managers: %v", basicLogPrefix, req.Type, err))
	}
	return resp, nil
}

func (b *Basic) manager(ctx context.Context, path string) *provider.Manager {
	b.mu.Lock()
	m, ok := b.managers[path]
	if ok {
		b.mu.Unlock()
		return m
	}
	m = provider.NewManager(path, b.catalog,
		provider.WithChunkSize(b.chunk),
		provider.WithClock(b.now),
		provider.WithCallbacks(provider.Callbacks{Indication: b.cb.Indication, Chunk: b.cb.Chunk}))
	b.managers[path] = m
	replay := b.subscriptionInitComplete
	b.mu.Unlock()

	slog.Info(fmt.Sprintf("%s - created provider manager %s", basicLogPrefix, path))
	if replay {
		m.ProcessMessage(ctx, message.New(&message.SubscriptionInitCompleteRequest{}))
	}
	return m
}

// snapshot returns the managers ordered by path.
func (b *Basic) snapshot() []*provider.Manager {
	b.mu.Lock()
	defer b.mu.Unlock()
	paths := make([]string, 0, len(b.managers))
	for p := range b.managers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	out := make([]*provider.Manager, len(paths))
	for i, p := range paths {
		out[i] = b.managers[p]
	}
	return out
}

// Paths returns the paths of the created provider managers.
func (b *Basic) Paths() []string {
	ms := b.snapshot()
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Path()
	}
	return out
}

func (b *Basic) UnloadIdleProviders(ctx context.Context) int {
	n := 0
	for _, m := range b.snapshot() {
		n += m.UnloadIdleProviders(ctx, b.idle)
	}
	return n
}

func (b *Basic) HasActiveProviders() bool {
	for _, m := range b.snapshot() {
		if m.HasActiveProviders() {
			return true
		}
	}
	return false
}

func (b *Basic) Shutdown(ctx context.Context) {
	for _, m := range b.snapshot() {
		m.Shutdown(ctx)
	}
}
