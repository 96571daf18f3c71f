// Package core contains the transfer domain model, the contracts that connectors
// and stores implement, configuration, and shared error helpers. Engine packages
// (copier, handoff, retry, idempotent) depend on core; core must not depend on
// them or on any storage or queue adapter.
package core
