package rpcx

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"ringcoord/internal/apperrors"
	"ringcoord/internal/ring"
	"ringcoord/internal/ringaddr"
	"ringcoord/internal/util"
)

// ClientManager caches one *rpc.Client per peer address, dialing lazily
// and redialing on the next call after a connection error. It applies the
// configured artificial delay immediately before every outbound call and
// never while any lock is held.
type ClientManager struct {
	self ringaddr.Addr
	log  util.Logger

	mu      sync.Mutex
	clients map[ringaddr.Addr]*rpc.Client

	delayMu sync.RWMutex
	delay   time.Duration

	timeout time.Duration
}

func NewClientManager(self ringaddr.Addr, delay, timeout time.Duration, log util.Logger) *ClientManager {
	if log == nil {
		log = util.L()
	}
	return &ClientManager{
		self:    self,
		log:     log,
		clients: make(map[ringaddr.Addr]*rpc.Client),
		delay:   delay,
		timeout: timeout,
	}
}

func (c *ClientManager) SetDelay(d time.Duration) {
	c.delayMu.Lock()
	defer c.delayMu.Unlock()
	c.delay = d
}

func (c *ClientManager) Delay() time.Duration {
	c.delayMu.RLock()
	defer c.delayMu.RUnlock()
	return c.delay
}

func (c *ClientManager) dial(addr ringaddr.Addr) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[addr]; ok {
		return cl, nil
	}
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		return nil, err
	}
	cl := rpc.NewClient(conn)
	c.clients[addr] = cl
	return cl, nil
}

func (c *ClientManager) drop(addr ringaddr.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[addr]; ok {
		_ = cl.Close()
		delete(c.clients, addr)
	}
}

// call applies the artificial delay, dials (or reuses) a connection, and
// bounds the round trip by c.timeout, dropping the cached client on any
// failure so the next call redials.
func (c *ClientManager) call(addr ringaddr.Addr, method string, args, reply any) error {
	if d := c.Delay(); d > 0 {
		time.Sleep(d)
	}

	cl, err := c.dial(addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	call := cl.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case res := <-call.Done:
		if res.Error != nil {
			c.drop(addr)
			return res.Error
		}
		return nil
	case <-time.After(c.timeout):
		c.drop(addr)
		return fmt.Errorf("rpc %s to %s: %w", method, addr, errors.New("timeout"))
	}
}

func (c *ClientManager) GetNext(addr ringaddr.Addr) (ringaddr.Addr, error) {
	var reply AddrReply
	if err := c.call(addr, "NodeRPC.GetNext", &GetPointerArgs{}, &reply); err != nil {
		return ringaddr.Addr{}, err
	}
	return reply.Addr, nil
}

func (c *ClientManager) SetNext(addr, from, value ringaddr.Addr) error {
	var reply OkReply
	return c.call(addr, "NodeRPC.SetNext", &SetPointerArgs{From: from, Value: value}, &reply)
}

func (c *ClientManager) SetPrev(addr, from, value ringaddr.Addr) error {
	var reply OkReply
	return c.call(addr, "NodeRPC.SetPrev", &SetPointerArgs{From: from, Value: value}, &reply)
}

func (c *ClientManager) SetNextNext(addr, from, value ringaddr.Addr) error {
	var reply OkReply
	return c.call(addr, "NodeRPC.SetNextNext", &SetPointerArgs{From: from, Value: value}, &reply)
}

func (c *ClientManager) NotifyRepair(addr, from, failed ringaddr.Addr) {
	var reply OkReply
	if err := c.call(addr, "NodeRPC.NotifyRepair", &NotifyRepairArgs{From: from, Failed: failed}, &reply); err != nil {
		c.log.Warnf("NotifyRepair(%s) failed: %v", addr, err)
	}
}

func (c *ClientManager) OtherJoining(addr, joiner ringaddr.Addr) (ring.NeighborInfo, error) {
	var reply NeighborInfoReply
	if err := c.call(addr, "NodeRPC.OtherJoining", &OtherJoiningArgs{Joiner: joiner}, &reply); err != nil {
		return ring.NeighborInfo{}, err
	}
	return ring.NeighborInfo{Next: reply.Next, NextNext: reply.NextNext, Prev: reply.Prev}, nil
}

func (c *ClientManager) Acquire(addr ringaddr.Addr, resourceName string, requester0 ringaddr.Addr) (string, ringaddr.Addr, error) {
	var reply AcquireReply
	if err := c.call(addr, "NodeRPC.Acquire", &AcquireArgs{Resource: resourceName, Requester0: requester0}, &reply); err != nil {
		return "", ringaddr.Addr{}, err
	}
	if reply.Reason != "" {
		return "", ringaddr.Addr{}, apperrors.Resource(apperrors.Reason(reply.Reason), resourceName)
	}
	return reply.Status, reply.Holder, nil
}

func (c *ClientManager) Release(addr ringaddr.Addr, resourceName string, requester0 ringaddr.Addr) (string, error) {
	var reply ReleaseReply
	if err := c.call(addr, "NodeRPC.Release", &ReleaseArgs{Resource: resourceName, Requester0: requester0}, &reply); err != nil {
		return "", err
	}
	if reply.Reason != "" {
		return "", apperrors.Resource(apperrors.Reason(reply.Reason), resourceName)
	}
	return reply.Status, nil
}

func (c *ClientManager) Grant(addr ringaddr.Addr, resourceName string, grantee ringaddr.Addr) {
	var reply OkReply
	if err := c.call(addr, "NodeRPC.Grant", &GrantArgs{Resource: resourceName, Grantee: grantee}, &reply); err != nil {
		c.log.Warnf("Grant(%s, %s) failed: %v", addr, resourceName, err)
	}
}

func (c *ClientManager) Probe(addr ringaddr.Addr, initiator, sender ringaddr.Addr) {
	var reply OkReply
	if err := c.call(addr, "NodeRPC.Probe", &ProbeArgs{Initiator: initiator, Sender: sender}, &reply); err != nil {
		c.log.Warnf("Probe(%s) failed: %v", addr, err)
	}
}
