/*
Package sandbox evaluates script source text with goja.

# Overview

A script is the body of an async function. Its only non-builtin names are
the capability parameters:

  - console: log, info, warn and error, captured into Result.Console
  - clock: now(), milliseconds since the epoch
  - document: a host-owned node tree (see Document)

Runtimes strip require, process, module, exports and the timer globals. The
returned promise is settled by goja's job queue before Execute returns, so
a script awaiting something that never resolves fails with ErrNotSettled.

Cancellation interrupts the VM. A thrown value or rejection comes back as
*ScriptError whose Message is the string form of the value.

# Usage Example

	pool, err := sandbox.NewPool(sandbox.DefaultConfig(), 4)
	if err != nil {
		return err
	}
	defer pool.Close()

	result, err := pool.Execute(ctx, "return document.findAll('FRAME').length", doc)

Pool.Reset retires every runtime, which the executor does after a rebuild.
*/
package sandbox
