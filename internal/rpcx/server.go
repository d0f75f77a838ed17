package rpcx

import (
	"net"
	"net/rpc"

	"ringcoord/internal/apperrors"
	"ringcoord/internal/ring"
	"ringcoord/internal/ringaddr"
	"ringcoord/internal/util"
)

// Handler is the inbound half of the inter-node protocol: whatever the
// coordinator's Node needs to expose to the wire. Defined here (rather
// than depending on the coordinator package) so rpcx has no import-cycle
// with the package that implements it.
type Handler interface {
	GetNext() ringaddr.Addr
	GetPrev() ringaddr.Addr
	GetNextNext() ringaddr.Addr

	HandleSetNext(from, value ringaddr.Addr) bool
	HandleSetPrev(from, value ringaddr.Addr) bool
	HandleSetNextNext(from, value ringaddr.Addr) bool
	HandleNotifyRepair(from, failed ringaddr.Addr)
	HandleOtherJoining(joiner ringaddr.Addr) ring.NeighborInfo

	HandleAcquire(resourceName string, requester0 ringaddr.Addr) (status string, holder ringaddr.Addr, err error)
	HandleRelease(resourceName string, requester0 ringaddr.Addr) (string, error)
	HandleGrant(resourceName string, grantee ringaddr.Addr)
	HandleProbe(initiator, sender ringaddr.Addr)
}

// NodeRPC is the net/rpc receiver: every exported method matches the
// func(args *T, reply *T) error shape net/rpc requires, delegating
// straight to Handler.
type NodeRPC struct {
	h   Handler
	log util.Logger
}

func NewNodeRPC(h Handler, log util.Logger) *NodeRPC {
	if log == nil {
		log = util.L()
	}
	return &NodeRPC{h: h, log: log}
}

func (s *NodeRPC) GetNext(args *GetPointerArgs, reply *AddrReply) error {
	reply.Addr = s.h.GetNext()
	return nil
}

func (s *NodeRPC) GetPrev(args *GetPointerArgs, reply *AddrReply) error {
	reply.Addr = s.h.GetPrev()
	return nil
}

func (s *NodeRPC) GetNextNext(args *GetPointerArgs, reply *AddrReply) error {
	reply.Addr = s.h.GetNextNext()
	return nil
}

func (s *NodeRPC) SetNext(args *SetPointerArgs, reply *OkReply) error {
	reply.OK = s.h.HandleSetNext(args.From, args.Value)
	return nil
}

func (s *NodeRPC) SetPrev(args *SetPointerArgs, reply *OkReply) error {
	reply.OK = s.h.HandleSetPrev(args.From, args.Value)
	return nil
}

func (s *NodeRPC) SetNextNext(args *SetPointerArgs, reply *OkReply) error {
	reply.OK = s.h.HandleSetNextNext(args.From, args.Value)
	return nil
}

func (s *NodeRPC) NotifyRepair(args *NotifyRepairArgs, reply *OkReply) error {
	s.h.HandleNotifyRepair(args.From, args.Failed)
	reply.OK = true
	return nil
}

func (s *NodeRPC) OtherJoining(args *OtherJoiningArgs, reply *NeighborInfoReply) error {
	info := s.h.HandleOtherJoining(args.Joiner)
	reply.Next, reply.NextNext, reply.Prev = info.Next, info.NextNext, info.Prev
	return nil
}

func (s *NodeRPC) Acquire(args *AcquireArgs, reply *AcquireReply) error {
	status, holder, err := s.h.HandleAcquire(args.Resource, args.Requester0)
	if err != nil {
		if ae, ok := apperrors.As(err); ok {
			reply.Reason = string(ae.Reason)
			return nil
		}
		return err
	}
	reply.Status = status
	reply.Holder = holder
	return nil
}

func (s *NodeRPC) Release(args *ReleaseArgs, reply *ReleaseReply) error {
	status, err := s.h.HandleRelease(args.Resource, args.Requester0)
	if err != nil {
		if ae, ok := apperrors.As(err); ok {
			reply.Reason = string(ae.Reason)
			return nil
		}
		return err
	}
	reply.Status = status
	return nil
}

func (s *NodeRPC) Grant(args *GrantArgs, reply *OkReply) error {
	s.h.HandleGrant(args.Resource, args.Grantee)
	reply.OK = true
	return nil
}

func (s *NodeRPC) Probe(args *ProbeArgs, reply *OkReply) error {
	s.h.HandleProbe(args.Initiator, args.Sender)
	reply.OK = true
	return nil
}

// Serve registers the receiver under its own rpc.Server (not the package
// default, so multiple nodes can run in one test process) and accepts
// connections until the listener is closed.
func Serve(listener net.Listener, h Handler, log util.Logger) error {
	server := rpc.NewServer()
	if err := server.Register(NewNodeRPC(h, log)); err != nil {
		return err
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go server.ServeConn(conn)
	}
}
