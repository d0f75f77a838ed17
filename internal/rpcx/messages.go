// Package rpcx is the inter-node binary protocol: a net/rpc server
// exposing a single NodeRPC receiver, and a client manager that dials and
// caches one *rpc.Client per peer and applies the configured outbound
// delay before every call. See DESIGN.md for why net/rpc's gob wire
// format was chosen over a grpc+protobuf transport.
package rpcx

import "ringcoord/internal/ringaddr"

// --- ring methods ---

type GetPointerArgs struct {
	// no payload; address targeting happens at the dial layer
}

type AddrReply struct {
	Addr ringaddr.Addr
}

type SetPointerArgs struct {
	From  ringaddr.Addr
	Value ringaddr.Addr
}

type OkReply struct {
	OK bool
}

type NotifyRepairArgs struct {
	From   ringaddr.Addr
	Failed ringaddr.Addr
}

type OtherJoiningArgs struct {
	Joiner ringaddr.Addr
}

type NeighborInfoReply struct {
	Next     ringaddr.Addr
	NextNext ringaddr.Addr
	Prev     ringaddr.Addr
}

// --- resource methods ---

type AcquireArgs struct {
	Resource   string
	Requester0 ringaddr.Addr // original requester, carried through forwarding hops
}

type AcquireReply struct {
	Status string // "granted" | "queued"
	Holder ringaddr.Addr
	Reason string // apperrors.Reason, set only when the call failed
}

type ReleaseArgs struct {
	Resource   string
	Requester0 ringaddr.Addr
}

type ReleaseReply struct {
	Status string // "released"
	Reason string // apperrors.Reason, set only when the call failed
}

type GrantArgs struct {
	Resource string
	Grantee  ringaddr.Addr
}

// --- detection method ---

type ProbeArgs struct {
	Initiator ringaddr.Addr
	Sender    ringaddr.Addr
}
