// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (participant.go, message.go, transport.go, errors.go) hold the
// shared types. No implementation code beyond small value helpers - just contracts.
// Interfaces live here so registry, router and transport packages never import each other.
package domain
