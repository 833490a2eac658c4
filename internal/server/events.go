package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"loreline/internal/domain"
	"loreline/internal/engine"
	"loreline/internal/eventbus"
)

// SSE frame types. The sse adapter derives the event name from the
// concrete type of each message, so every frame name gets its own type
// even when the payload shape is shared.
type connectedFrame struct {
	Status string `json:"status"`
}

type docCreatedFrame domain.Document
type directiveFrame domain.Directive
type taskFrame domain.Task
type workerFrame domain.Worker
type workerRemovedFrame engine.WorkerRemoved
type workerLogFrame domain.WorkerLogLine
type activityFrame domain.Activity
type stateFrame domain.State
type orchestratorFrame domain.State

// registerEvents streams bus events to the client. The first frame is a
// connected ack so clients can distinguish an open stream from a stalled
// one. Slow consumers lose oldest-first; see the bus for the drop policy.
func registerEvents(api huma.API, e *engine.Engine) {
	sse.Register(api, huma.Operation{
		OperationID: "events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event stream",
	}, map[string]any{
		"connected":           connectedFrame{},
		engine.EvDocCreated:   docCreatedFrame{},
		engine.EvDirective:    directiveFrame{},
		engine.EvTask:         taskFrame{},
		engine.EvWorker:       workerFrame{},
		"worker_removed":      workerRemovedFrame{},
		engine.EvWorkerLog:    workerLogFrame{},
		engine.EvActivity:     activityFrame{},
		engine.EvState:        stateFrame{},
		engine.EvOrchestrator: orchestratorFrame{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		sub := e.Bus.Subscribe()
		defer sub.Close()

		status := "online"
		if !e.Store.Sup.Online() {
			status = "degraded"
		}
		if err := send.Data(connectedFrame{Status: status}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				frame, ok := frameFor(ev)
				if !ok {
					continue
				}
				if err := send.Data(frame); err != nil {
					return
				}
			}
		}
	})
}

// frameFor wraps a bus payload in its name-specific SSE type. Unknown
// combinations are dropped rather than sent under a wrong event name.
func frameFor(ev eventbus.Event) (any, bool) {
	switch ev.Name {
	case engine.EvDocCreated:
		if d, ok := ev.Payload.(domain.Document); ok {
			return docCreatedFrame(d), true
		}
	case engine.EvDirective:
		if d, ok := ev.Payload.(domain.Directive); ok {
			return directiveFrame(d), true
		}
	case engine.EvTask:
		if t, ok := ev.Payload.(domain.Task); ok {
			return taskFrame(t), true
		}
	case engine.EvWorker:
		if w, ok := ev.Payload.(domain.Worker); ok {
			return workerFrame(w), true
		}
		if r, ok := ev.Payload.(engine.WorkerRemoved); ok {
			return workerRemovedFrame(r), true
		}
	case engine.EvWorkerLog:
		if l, ok := ev.Payload.(domain.WorkerLogLine); ok {
			return workerLogFrame(l), true
		}
	case engine.EvActivity:
		if a, ok := ev.Payload.(domain.Activity); ok {
			return activityFrame(a), true
		}
	case engine.EvState:
		if s, ok := ev.Payload.(domain.State); ok {
			return stateFrame(s), true
		}
	case engine.EvOrchestrator:
		if s, ok := ev.Payload.(domain.State); ok {
			return orchestratorFrame(s), true
		}
	}
	return nil, false
}
