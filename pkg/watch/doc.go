// Package watch notices edits to model, policy and entity sources.
//
// FileWatcher turns fsnotify events into typed ChangeEvents; Debouncer
// merges bursts of them (an editor save is often several events) into one
// event per source type.
package watch
