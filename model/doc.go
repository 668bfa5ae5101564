// Package model defines the provider-agnostic contract between the
// orchestrator and a remote language model: a normalized request carrying
// conversation contents plus tool definitions, and a channel of partial or
// final responses. Provider adapters live in subpackages.
package model
