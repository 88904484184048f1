// Package diamfacade models the boundary between this HSS's S6a command
// handlers and a Diameter peer/transport stack. Per the design note that a
// rewrite should "model the Diameter façade as an interface exposing
// register(command, closure)", it exposes only registration and dispatch —
// the real peer state machine, capability negotiation, and SCTP/TCP
// transport are out of scope (see spec Non-goals) and would sit on the
// other side of Dispatch in a production deployment.
package diamfacade

import (
	"context"
	"fmt"
	"sync"

	"github.com/protei/hss/internal/diamcodec"
	"github.com/protei/hss/internal/hsserrors"
)

// Handler answers one Diameter request. Implementations close over
// whatever state they need (store, pool, context) at registration time
// instead of receiving it as an opaque user-data pointer.
type Handler func(ctx context.Context, req *diamcodec.Message) (*diamcodec.Message, error)

// Facade is the dispatch surface handlers register against.
type Facade interface {
	// Register binds a handler to an (application ID, command code) pair.
	// Registering the same pair twice replaces the previous handler.
	Register(appID, cmdCode uint32, h Handler)

	// Dispatch routes a decoded request to its registered handler. A
	// missing handler returns ErrNoHandler, which callers map to
	// DIAMETER_COMMAND_UNSUPPORTED. A handler panic is recovered and
	// converted into a DIAMETER_UNABLE_TO_COMPLY answer alongside a
	// non-nil error wrapping hsserrors.ErrInternal, so a caller can both
	// log the failure and still have an answer to send.
	Dispatch(ctx context.Context, req *diamcodec.Message) (*diamcodec.Message, error)
}

type key struct {
	appID, cmdCode uint32
}

// InProcess is a Facade implementation that dispatches directly to
// in-memory handlers — the shape this HSS uses, since it never speaks the
// wire protocol over a socket (see spec Non-goals: UDP/SCTP sockets).
type InProcess struct {
	mu       sync.RWMutex
	handlers map[key]Handler
}

// NewInProcess constructs an empty façade.
func NewInProcess() *InProcess {
	return &InProcess{handlers: make(map[key]Handler)}
}

// Register implements Facade.
func (f *InProcess) Register(appID, cmdCode uint32, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key{appID, cmdCode}] = h
}

// Dispatch implements Facade.
func (f *InProcess) Dispatch(ctx context.Context, req *diamcodec.Message) (resp *diamcodec.Message, err error) {
	f.mu.RLock()
	h, ok := f.handlers[key{req.Header.ApplicationID, req.Header.CommandCode}]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("diamfacade: %w (app %d, command %d)", ErrNoHandler, req.Header.ApplicationID, req.Header.CommandCode)
	}

	defer func() {
		if r := recover(); r != nil {
			resp = diamcodec.NewAnswer(req)
			resp.AddUint32(diamcodec.AVPResultCode, diamcodec.AVPFlagMandatory, diamcodec.ResultUnableToComply)
			err = fmt.Errorf("diamfacade: %w: handler panicked: %v", hsserrors.ErrInternal, r)
		}
	}()
	return h(ctx, req)
}

// ErrNoHandler is returned by Dispatch when no handler is registered for
// the request's (application ID, command code) pair.
var ErrNoHandler = errNoHandler{}

type errNoHandler struct{}

func (errNoHandler) Error() string { return "no handler registered" }
