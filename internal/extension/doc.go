// Package extension is the host's extension mechanism: it discovers
// module files on disk, verifies their signatures before any of their
// code runs, loads them and resolves their entry points, bridges
// their declared commands into the host menu, and delivers lifecycle
// and editing events to every operative module.
//
// # Architecture
//
// Leaves first:
//
//   - Descriptor: value record of one loaded module (metadata, entry
//     points, commands, menu handles, state, last error).
//   - trust.Verifier: detached-signature check, run strictly before a
//     candidate is mapped.
//   - runtime.Set: pluggable backends mapping module files into the
//     process (native Go plugins, Lua scripts) and resolving entry
//     points into a typed Exports value.
//   - Loader: drives the load sequence over verifier and runtimes,
//     releasing the module on every failure path.
//   - Bus: deterministic, non-concurrent event delivery with
//     cancellable events and per-module fault containment.
//   - Bridge: converts declared commands into MenuSink entries and
//     routes activation back to module callbacks.
//   - Manager: the orchestrator and sole host entry point; it owns
//     the registry and sequences everything above.
//
// # Usage
//
//	cfg, err := extension.DefaultManagerConfig()
//	if err != nil {
//		return err
//	}
//	cfg.Logger = logger
//	mgr, err := extension.NewManager(cfg)
//	if err != nil {
//		return err
//	}
//	count, err := mgr.LoadAll()
//	...
//	if mgr.BroadcastCancellable(extapi.EventBeforeSave, extapi.FileEvent{Path: p}) {
//		// save proceeds
//	}
//	mgr.UnloadAll()
//
// # Concurrency
//
// The subsystem is designed for the host's single control thread. No
// module callback is invoked concurrently with another and no two
// broadcasts interleave. Loading is blocking and synchronous; a
// hanging module callback hangs the host. The registry is owned by
// the Manager; external callers only see read-only views.
package extension
