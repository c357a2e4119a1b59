// Package bridge lets a harness run code on a remote executor it can only
// reach through the relay.
//
// CallRemote tags each request with a fresh run id, listens for the
// EXECUTE_RESULT or EXECUTE_ERROR carrying that id, and gives up after a
// timeout, sending a best-effort CANCEL_REQUEST. Both listeners and the
// timer are released on every outcome. Responses for other run ids, and
// any response after the first, are ignored.
//
// A bridge refuses calls until an executor has announced EXECUTOR_READY;
// WaitReady probes for one.
//
//	b := bridge.New(harness, bridge.DefaultConfig(), logger)
//	if err := b.WaitReady(ctx); err != nil {
//		return err
//	}
//	v, err := b.CallRemote(ctx, "return document.findAll('FRAME').length",
//		bridge.WithTimeout(5*time.Second))
package bridge
