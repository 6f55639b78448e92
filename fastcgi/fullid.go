package fastcgi

// FullID is the primary key of a request: the pair of the connection file
// descriptor it arrived on and the FastCGI request id within that
// connection. A RequestID of 0 addresses the manager itself (management
// records); any other value addresses a logical, possibly multiplexed,
// request.
type FullID struct {
	FD        int
	RequestID uint16
}

// packed returns a 32-bit key combining FD and RequestID, used as the
// request table's map key.
func (f FullID) packed() uint32 {
	return uint32(uint16(f.FD))<<16 | uint32(f.RequestID)
}

// IsManagement reports whether this id addresses the manager rather than a
// specific request.
func (f FullID) IsManagement() bool {
	return f.RequestID == 0
}
