// Package comm owns the process group that distributed fields live on.
//
// Ownership boundary:
// - rank lifecycle (one goroutine per rank, whole-group abort)
// - collective operations (barrier, alltoall, gather, broadcast, allreduce)
// - collective ordering checks and arrival timeouts
//
// Every collective must be issued by every rank of the group in the same order.
// A rank that fails, panics, issues a different collective, or never arrives
// aborts the whole group; there is no local recovery from a failed collective.
package comm
