// Package contracts defines the message shapes shared across the control
// plane: the wire envelope with its `_metadata` enrichment, the well-known
// queue names, and the tagged union of event kinds decoded at the consumer
// boundary.
package contracts
