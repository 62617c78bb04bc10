package provider

import (
	"context"
	"strings"
	"sync"

	"github.com/morezero/cim-broker/pkg/cim"
)

// Memory keeps instances in memory. It also records the indications it
// consumes and generates indications on Emit, which makes it the provider the
// server registers for its own test module.
type Memory struct {
	mu        sync.Mutex
	instances map[string]*cim.Instance
	order     []string
	sink      IndicationSink
	subs      int
	consumed  []Consumed
	calls     int
}

// Consumed is one indication handed to Memory as a consumer.
type Consumed struct {
	Destination string
	Indication  *cim.Instance
}

// NewMemory returns a provider holding copies of insts.
func NewMemory(insts ...*cim.Instance) *Memory {
	m := &Memory{instances: make(map[string]*cim.Instance)}
	for _, inst := range insts {
		m.put(inst.Clone())
	}
	return m
}

// memKey ignores host and namespace.
func memKey(p cim.ObjectPath) string {
	return strings.ToLower(cim.ObjectPath{ClassName: p.ClassName, KeyBindings: p.KeyBindings}.String())
}

func (m *Memory) put(inst *cim.Instance) {
	k := memKey(inst.Path)
	if _, ok := m.instances[k]; !ok {
		m.order = append(m.order, k)
	}
	m.instances[k] = inst
}

func (m *Memory) enter() {
	m.mu.Lock()
	m.calls++
}

// Calls returns how many provider operations were invoked.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Memory) GetInstance(_ context.Context, _ CallContext, path cim.ObjectPath, pl cim.PropertyList) (*cim.Instance, error) {
	m.enter()
	defer m.mu.Unlock()
	inst, ok := m.instances[memKey(path)]
	if !ok {
		return nil, cim.NewError(cim.StatusNotFound, path.String())
	}
	return filter(inst, pl), nil
}

func (m *Memory) EnumerateInstances(_ context.Context, _ CallContext, class cim.ObjectPath, pl cim.PropertyList) ([]*cim.Instance, error) {
	m.enter()
	defer m.mu.Unlock()
	var out []*cim.Instance
	for _, k := range m.order {
		inst := m.instances[k]
		if class.ClassName == "" || strings.EqualFold(inst.ClassName(), class.ClassName) {
			out = append(out, filter(inst, pl))
		}
	}
	return out, nil
}

func (m *Memory) EnumerateInstanceNames(ctx context.Context, cc CallContext, class cim.ObjectPath) ([]cim.ObjectPath, error) {
	insts, err := m.EnumerateInstances(ctx, cc, class, cim.PropertyList{})
	if err != nil {
		return nil, err
	}
	paths := make([]cim.ObjectPath, len(insts))
	for i, inst := range insts {
		paths[i] = inst.Path
	}
	return paths, nil
}

func (m *Memory) CreateInstance(_ context.Context, _ CallContext, inst *cim.Instance) (cim.ObjectPath, error) {
	m.enter()
	defer m.mu.Unlock()
	if inst == nil {
		return cim.ObjectPath{}, cim.NewError(cim.StatusInvalidParameter, "no instance")
	}
	if _, ok := m.instances[memKey(inst.Path)]; ok {
		return cim.ObjectPath{}, cim.NewError(cim.StatusAlreadyExists, inst.Path.String())
	}
	m.put(inst.Clone())
	return inst.Path, nil
}

func (m *Memory) ModifyInstance(_ context.Context, _ CallContext, inst *cim.Instance, pl cim.PropertyList) error {
	m.enter()
	defer m.mu.Unlock()
	if inst == nil {
		return cim.NewError(cim.StatusInvalidParameter, "no instance")
	}
	cur, ok := m.instances[memKey(inst.Path)]
	if !ok {
		return cim.NewError(cim.StatusNotFound, inst.Path.String())
	}
	next := cur.Clone()
	for _, p := range inst.Properties {
		if pl.Contains(p.Name) {
			next.SetProperty(p.Name, p.Value)
		}
	}
	m.instances[memKey(inst.Path)] = next
	return nil
}

func (m *Memory) DeleteInstance(_ context.Context, _ CallContext, path cim.ObjectPath) error {
	m.enter()
	defer m.mu.Unlock()
	k := memKey(path)
	if _, ok := m.instances[k]; !ok {
		return cim.NewError(cim.StatusNotFound, path.String())
	}
	delete(m.instances, k)
	for i, o := range m.order {
		if o == k {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) EnableIndications(sink IndicationSink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
	return nil
}

func (m *Memory) DisableIndications() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = nil
	return nil
}

func (m *Memory) CreateSubscription(context.Context, CallContext, Subscription) error {
	m.enter()
	defer m.mu.Unlock()
	m.subs++
	return nil
}

func (m *Memory) ModifySubscription(context.Context, CallContext, Subscription) error {
	m.enter()
	defer m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteSubscription(context.Context, CallContext, Subscription) error {
	m.enter()
	defer m.mu.Unlock()
	if m.subs > 0 {
		m.subs--
	}
	return nil
}

// Emit hands an indication to the enabled sink. It reports false while
// indications are disabled.
func (m *Memory) Emit(namespace string, indication *cim.Instance) bool {
	m.mu.Lock()
	s := m.sink
	m.mu.Unlock()
	if s == nil {
		return false
	}
	s.Deliver(namespace, indication)
	return true
}

func (m *Memory) ConsumeIndication(_ context.Context, _ CallContext, destination string, indication *cim.Instance) error {
	m.enter()
	defer m.mu.Unlock()
	m.consumed = append(m.consumed, Consumed{Destination: destination, Indication: indication})
	return nil
}

// Consumed returns the indications consumed so far.
func (m *Memory) Consumed() []Consumed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Consumed(nil), m.consumed...)
}

func filter(inst *cim.Instance, pl cim.PropertyList) *cim.Instance {
	out := inst.Clone()
	if !pl.Specified {
		return out
	}
	kept := out.Properties[:0]
	for _, p := range out.Properties {
		if pl.Contains(p.Name) {
			kept = append(kept, p)
		}
	}
	out.Properties = kept
	return out
}
