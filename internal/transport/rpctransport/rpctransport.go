// Package rpctransport is a net/rpc-backed transport.Transport for
// running a small cluster of overlay nodes as separate local processes,
// in place of a hosted message bus. Each node runs its own RPC server
// and dials peers directly by their registered TCP address.
package rpctransport

import (
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/mcastellin/adview-overlay/internal/protocol"
	"github.com/mcastellin/adview-overlay/internal/transport"
	"go.uber.org/zap"
)

const deliverMethod = "Mailbox.Deliver"

// Registry maps node ids to the dial address of their RPC server.
type Registry map[string]string

// DeliverArgs is the RPC payload carrying one envelope.
type DeliverArgs struct {
	Msg protocol.Message
}

// DeliverReply is the (empty) RPC acknowledgement.
type DeliverReply struct{}

// mailbox is the RPC-exported receiver; it just drops incoming envelopes
// into the node's local in-memory inbox.
type mailbox struct {
	self string
	bus  *transport.MemoryBus
}

// Deliver is exported for net/rpc: it's called by peers' Client.Send.
func (m *mailbox) Deliver(args *DeliverArgs, reply *DeliverReply) error {
	m.bus.Send(m.self, args.Msg)
	return nil
}

// New creates a Node bound to selfID's address in the registry. Call
// Serve before using Send/Receive/Delete.
func New(selfID string, registry Registry, logger *zap.Logger) *Node {
	return &Node{
		selfID:   selfID,
		registry: registry,
		logger:   logger,
		bus:      transport.NewMemoryBus(),
		closing:  make(chan chan error),
	}
}

// Node implements transport.Transport over net/rpc. Delivery dials the
// target's registered address directly; local delivery and receive
// bookkeeping reuse an in-memory inbox.
type Node struct {
	selfID   string
	registry Registry
	logger   *zap.Logger

	bus *transport.MemoryBus

	mu       sync.Mutex
	clients  map[string]*rpc.Client
	closing  chan chan error
	listener net.Listener
}

// Serve starts the RPC server bound to selfID's registered address and
// begins accepting connections in the background, following the same
// two-channel accept/serve split used elsewhere in this codebase to let
// shutdown interrupt a blocked Accept promptly.
func (n *Node) Serve() error {
	addr, ok := n.registry[n.selfID]
	if !ok {
		return fmt.Errorf("rpctransport: no registered address for %s", n.selfID)
	}

	n.bus.Register(n.selfID)

	server := rpc.NewServer()
	if err := server.RegisterName("Mailbox", &mailbox{self: n.selfID, bus: n.bus}); err != nil {
		return err
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	n.listener = l

	go n.serveLoop(l, server)
	return nil
}

func (n *Node) serveLoop(l net.Listener, server *rpc.Server) {
	defer l.Close()

	accepting := make(chan struct{}, 1)
	serving := make(chan net.Conn, 1)
	accepting <- struct{}{}
	for {
		select {
		case <-accepting:
			go func() {
				conn, err := l.Accept()
				if err != nil {
					return
				}
				serving <- conn
			}()
		case conn, ok := <-serving:
			if !ok {
				return
			}
			go server.ServeConn(conn)
			accepting <- struct{}{}
		case errch := <-n.closing:
			errch <- l.Close()
			return
		}
	}
}

// Shutdown stops accepting new connections and closes cached clients.
func (n *Node) Shutdown() error {
	errch := make(chan error)
	n.closing <- errch
	err := <-errch

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.clients {
		c.Close()
	}
	n.clients = nil
	return err
}

func (n *Node) clientFor(target string) (*rpc.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.clients == nil {
		n.clients = map[string]*rpc.Client{}
	}
	if c, ok := n.clients[target]; ok {
		return c, nil
	}

	addr, ok := n.registry[target]
	if !ok {
		return nil, fmt.Errorf("rpctransport: no registered address for %s", target)
	}
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	n.clients[target] = c
	return c, nil
}

// Send dials target's RPC server (reusing a cached connection) and
// delivers msg. A dial or call failure drops the cached client and
// returns false; the caller logs and moves on per the no-retry policy.
func (n *Node) Send(target string, msg protocol.Message) bool {
	client, err := n.clientFor(target)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("rpctransport: dial failed", zap.String("target", target), zap.Error(err))
		}
		return false
	}

	var reply DeliverReply
	if err := client.Call(deliverMethod, &DeliverArgs{Msg: msg}, &reply); err != nil {
		if n.logger != nil {
			n.logger.Warn("rpctransport: deliver failed", zap.String("target", target), zap.Error(err))
		}
		n.mu.Lock()
		delete(n.clients, target)
		n.mu.Unlock()
		return false
	}
	return true
}

// Receive long-polls self's local inbox, populated by incoming RPC
// Deliver calls.
func (n *Node) Receive(self string, maxBatch int, waitFor time.Duration) []protocol.Message {
	return n.bus.Receive(self, maxBatch, waitFor)
}

// Delete acknowledges a processed message.
func (n *Node) Delete(self, receipt string) {
	n.bus.Delete(self, receipt)
}

var _ transport.Transport = (*Node)(nil)
