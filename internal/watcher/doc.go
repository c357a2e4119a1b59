// Package watcher publishes BUILD_COMPLETE when the plugin bundle changes.
//
// Every directory under the root is watched with fsnotify; new directories
// are picked up as they appear. Changes to files matching the configured
// doublestar patterns are collected until the tree has been quiet for the
// debounce interval, then announced once to the sandbox and observer rooms.
package watcher
