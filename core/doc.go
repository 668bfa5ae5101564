// Package core defines the shared data model of the agent: conversation
// turns and their polymorphic content parts, tool results with provenance,
// and the lifecycle events emitted while a request is processed. All types
// here are plain values; behavior lives in the packages that produce or
// consume them.
package core
