package server

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"treemap/call"
	"treemap/message"
)

// Dispatcher routes requests to registered handlers by call name. The server
// gives every connection its own Dispatcher.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[string]*route
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[string]*route)}
}

func (d *Dispatcher) add(r *route) error {
	name := r.info.CallName()
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.routes[name]; dup {
		return fmt.Errorf("%w: %s", call.ErrDuplicateCall, name)
	}
	d.routes[name] = r
	return nil
}

// Names returns the registered call names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.routes))
	for name := range d.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Covers reports an error naming the first catalog call with no handler.
func (d *Dispatcher) Covers(catalog *call.Catalog) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, name := range catalog.Names() {
		if _, ok := d.routes[name]; !ok {
			return fmt.Errorf("server: no handler registered for %s", name)
		}
	}
	return nil
}

// Handle runs one request to completion and always returns a response carrying
// the request's id. It has the middleware.HandlerFunc signature.
func (d *Dispatcher) Handle(ctx context.Context, req *message.Request) *message.Response {
	d.mu.RLock()
	r, ok := d.routes[req.Call]
	d.mu.RUnlock()
	if !ok {
		return message.Fail(req.ID, string(call.KindUnknownCall), fmt.Sprintf("no handler for call %q", req.Call))
	}
	result, cerr := r.invoke(ctx, req.Payload)
	if cerr != nil {
		return message.Fail(req.ID, string(cerr.Kind), cerr.Message)
	}
	return message.Success(req.ID, result)
}
