// Package model groups the data types shared by the allocator and its
// callers: fixed-point RAM amounts (ram), worker ledgers (worker),
// reservations and claims (allocation) and the request/response messages
// exchanged over the inbound queue (protocol).
package model
