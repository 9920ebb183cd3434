// Package registry records which coordinator is assigned to each resource
// and which requesters have been attached to it.
//
// Two implementations share the Registry interface:
//
//   - SQLiteRegistry: durable, file backed, used by the CLI
//   - MemoryRegistry: in-process, used by tests and the ward package tests
//
// Contacts are matched by identity. Re-registering a known identity keeps
// the address stored first.
package registry
