// Package provider adapts the external render farm's job-status API.
//
// The client is a pure query: it never mutates provider state and is safe
// to call any number of times for the same job. Transport and decode
// failures are deliberately reported as "still running" so that a transient
// outage can never permanently fail a task; the reconciler's timeout
// policies bound how long that retry loop can last.
package provider
