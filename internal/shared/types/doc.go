// Package types holds the wire and coordination types shared by the relay,
// the relay client, the bridge and the executor.
//
// Wire types:
//   - Envelope: routed relay frame {event, data, targetRooms}
//   - ExecutionRequest / ExecutionResponse: correlated by runId
//   - CancelRequest: advisory stop signal
//   - RoomState, ReadyNotice, BuildNotice: broadcast notices
//
// Example:
//
//	env, err := types.NewEnvelope(types.EventExecuteRequest,
//	    types.ExecutionRequest{RunID: runID, SourceText: "return 42"},
//	    types.RoomSandbox)
package types
