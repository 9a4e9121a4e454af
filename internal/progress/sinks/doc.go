// Package sinks implements run event consumers: a JSONL file that survives the
// process and a structured log stream for debugging.
package sinks
