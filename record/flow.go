package record

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// Endpoint is one side of a TCP connection.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// FlowKey identifies one direction of a TCP connection: the ordered
// pair (src, dst). Both directions of a connection are tracked
// separately (spec.md §3), since requests and responses travel on
// different halves.
type FlowKey struct {
	Src, Dst Endpoint
}

func (k FlowKey) String() string {
	return k.Src.String() + "->" + k.Dst.String()
}

// Reverse returns the opposite-direction flow key for the same
// connection.
func (k FlowKey) Reverse() FlowKey {
	return FlowKey{Src: k.Dst, Dst: k.Src}
}

// bidiID derives a stable identifier shared by both directions of one
// connection, the way TCPBidiID does in the teacher: normalize the
// pair into a canonical order so either direction hashes to the same
// value, then derive a UUID from it.
func bidiID(k FlowKey) uuid.UUID {
	a, b := k.Src.String(), k.Dst.String()
	if a > b {
		a, b = b, a
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(a+"|"+b))
}
