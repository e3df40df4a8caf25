// Package leaseqd implements a disk-backed, multi-channel message lease
// queue: producers Push opaque payloads once; any number of named
// Channels independently Get and Ack them with automatic, TTL-based
// redelivery of unacked leases. The append-only segment storage itself is
// not part of this package (see leaseqd/segment for the reference
// implementation) — Queue depends only on the BackendQueue interface.
package leaseqd
