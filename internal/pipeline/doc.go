// Package pipeline coordinates one voice-dialogue request through its
// three stages: speech recognition, reply generation and speech
// synthesis. The coordinator enforces an overall processing deadline
// counted from audio receipt, per-stage timeouts, and a hard bound on
// concurrent requests. Failures are translated into a closed set of
// typed error codes; stages are never retried at this layer.
package pipeline
