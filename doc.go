// Package krt implements the Linux kernel routing-table synchronization
// core of a routing daemon: the rtnetlink wire codec, the transport
// discipline over the three control-channel endpoints (scan, request,
// async), and the translation between the kernel's on-wire link/address/
// route encoding and the daemon's normalized route model.
//
// krt itself never holds the daemon's route table, interface registry, or
// neighbor cache; those are supplied by the caller through the
// collaborator interfaces in collaborators.go. This package only knows how
// to talk to the kernel and how to shape what it hears into the records
// the rest of the daemon understands.
package krt
