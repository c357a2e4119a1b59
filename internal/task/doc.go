// Package task sequences lifecycle steps.
//
// Tasks are registered by name in a Registry; names are a flat namespace
// and registering one twice fails. Serial and Parallel compose tasks into a
// Runner, and a Runner's Handler can itself be registered, so groups nest:
//
//	services := reg.MustRegister("services", task.Parallel(executor, watcher).Handler())
//	results, err := task.Serial(config, relay, services, ready).Run(ctx, opts)
//
// Each handler gets the results produced so far in the run, keyed by task
// name. A nested group's results are merged into the enclosing run.
package task
