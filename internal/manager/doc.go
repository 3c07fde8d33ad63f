// Package manager wires the notification bus together: the process
// lifecycle, the handler registry, the resource model, the metric poller,
// the state projection and the listener bridge. It is structured into small
// files by concern:
//
//   - manager.go: Manager type, Start, Reload, Shutdown and lifecycle marks.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - bus.go: pass-through registration, dispatch and resource operations.
//   - status_report.go: Status and state projection views for /status and /state.
//   - errors.go: sentinel errors (ErrClosed, ErrNotStarted) and helpers.
//   - events.go, eventpub_memory.go: operation events for observers and tests.
//
// External packages should treat this package as the orchestration layer and
// use public methods only.
package manager
