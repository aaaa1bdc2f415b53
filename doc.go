// Package fabtsuite implements a paired put/get transport over an
// RDMA-style fabric: a transmitter drives one-sided RDMA writes into
// target buffers a receiver advertises, bounded by a fixed-size
// worker pool that drives many sessions' inner loops concurrently.
//
// Run is the main entry point, mirroring the shape of a
// CreateAndServe-style constructor: it takes a fabric.Domain, a
// Params describing which side of the connection to bring up, and an
// optional Options, and returns a Handle to wait on or cancel.
package fabtsuite
