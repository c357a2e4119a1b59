// Package logging provides structured logging using uber/zap.
//
// Production output is JSON on stderr; development output is colored
// console lines. Every long-lived component (relay hub, relay client,
// bridge, executor, watcher) takes a *Logger and derives a named child:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	hub := ws.NewHub(ws.DefaultConfig(), logger, metrics)
//	logger.Named("relay").Info("relay listening", zap.Int("port", 3001))
package logging
