package workers

import (
	"github.com/quarrylabs/quarry/internal/events"
)

// Notifier receives pool-level notifications, each tagged with the slot of
// the handle that emitted it. The callback set is fixed so the contract is
// statically checkable; callbacks run on handle goroutines and must not
// block.
type Notifier interface {
	HandleSpawned(slot int)
	HandleExited(slot int, code int)
	HandleError(slot int, err error)
	WorkerLog(slot int, level, message string)
	WorkerEvent(slot int, name string, args map[string]any)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) HandleSpawned(int)                       {}
func (NopNotifier) HandleExited(int, int)                   {}
func (NopNotifier) HandleError(int, error)                  {}
func (NopNotifier) WorkerLog(int, string, string)           {}
func (NopNotifier) WorkerEvent(int, string, map[string]any) {}

// HubNotifier publishes pool notifications to an events hub for observers
// (status API, terminal monitor).
type HubNotifier struct {
	Hub *events.Hub
}

func (n HubNotifier) HandleSpawned(slot int) {
	n.Hub.Publish(events.TypeWorkerSpawn, slot, nil)
}

func (n HubNotifier) HandleExited(slot, code int) {
	n.Hub.Publish(events.TypeWorkerExit, slot, map[string]any{"code": code})
}

func (n HubNotifier) HandleError(slot int, err error) {
	n.Hub.Publish(events.TypeWorkerError, slot, map[string]any{"error": err.Error()})
}

func (n HubNotifier) WorkerLog(slot int, level, message string) {
	n.Hub.Publish(events.TypeWorkerLog, slot, map[string]any{"level": level, "message": message})
}

func (n HubNotifier) WorkerEvent(slot int, name string, args map[string]any) {
	n.Hub.Publish(events.TypeWorkerEvent, slot, map[string]any{"name": name, "args": args})
}
