package router

import (
	"context"
	"sync"
)

// Reserved handler names. The cleanup message type routes to the cleanup
// handler; every other routed type goes to the notification handler.
const (
	HandlerCleanup      = "cleanup"
	HandlerNotification = "notification"
)

// Handler executes one command session. Init receives the fully-built session
// before Process runs; a handler instance must tolerate concurrent sessions
// or be registered once per worker.
type Handler interface {
	Init(session *CommandSession) error
	Process(ctx context.Context, session *CommandSession) error
}

// HandlerRegistry maps reserved handler names to implementations.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register installs a handler under a name, replacing any previous one.
func (r *HandlerRegistry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Get looks up a handler by name.
func (r *HandlerRegistry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// DispatchTarget resolves the handler name for a message type: the cleanup
// type gets the cleanup handler, everything else the notification handler.
func DispatchTarget(msgType string) string {
	if msgType == CleanupEventType {
		return HandlerCleanup
	}
	return HandlerNotification
}
