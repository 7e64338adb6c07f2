// Package domain contains the core entities of the enhancement service,
// independent of storage, transport, or external providers.
package domain
