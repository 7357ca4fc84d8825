// Package apploop implements the single-threaded node runtime: the
// poll/dispatch/periodic outer loop coordinating the four subsystems and
// the transport, plus the application layer built on top of them —
// periodic VIEW_EVENT publication against a content catalog and
// reputation-weighted audits of the reports peers send back.
package apploop

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mcastellin/adview-overlay/internal/choking"
	"github.com/mcastellin/adview-overlay/internal/endpointcache"
	"github.com/mcastellin/adview-overlay/internal/gossip"
	"github.com/mcastellin/adview-overlay/internal/heartbeat"
	"github.com/mcastellin/adview-overlay/internal/metrics"
	"github.com/mcastellin/adview-overlay/internal/protocol"
	"github.com/mcastellin/adview-overlay/internal/reputation"
	"github.com/mcastellin/adview-overlay/internal/transport"
)

// Default periodic task intervals and heartbeat tuning, per the runtime
// design.
const (
	DefaultGossipInterval     = 15 * time.Second
	DefaultHeartbeatInterval  = 10 * time.Second
	DefaultChokingInterval    = 30 * time.Second
	DefaultReputationInterval = 30 * time.Second
	DefaultPublishInterval    = 15 * time.Second
	DefaultAuditInterval      = 45 * time.Second

	DefaultMissThreshold      = 3
	DefaultGracePeriod        = 2
	DefaultMaxUnchoked        = 4
	DefaultOptimisticInterval = 3

	defaultReceiveBatch = 10
	defaultReceiveWait  = 2 * time.Second
)

// Config bundles the tunables a Node is constructed with.
type Config struct {
	SelfID   string
	Endpoint string

	ContentCatalog []string

	GossipInterval     time.Duration
	HeartbeatInterval  time.Duration
	ChokingInterval    time.Duration
	ReputationInterval time.Duration
	PublishInterval    time.Duration
	AuditInterval      time.Duration

	MissThreshold      int
	GracePeriod        int
	MaxUnchoked        int
	OptimisticInterval int

	ReceiveBatch int
	ReceiveWait  time.Duration
}

// withDefaults fills any zero-valued tunable with its documented default.
func (c Config) withDefaults() Config {
	if c.GossipInterval == 0 {
		c.GossipInterval = DefaultGossipInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ChokingInterval == 0 {
		c.ChokingInterval = DefaultChokingInterval
	}
	if c.ReputationInterval == 0 {
		c.ReputationInterval = DefaultReputationInterval
	}
	if c.PublishInterval == 0 {
		c.PublishInterval = DefaultPublishInterval
	}
	if c.AuditInterval == 0 {
		c.AuditInterval = DefaultAuditInterval
	}
	if c.MissThreshold == 0 {
		c.MissThreshold = DefaultMissThreshold
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.MaxUnchoked == 0 {
		c.MaxUnchoked = DefaultMaxUnchoked
	}
	if c.OptimisticInterval == 0 {
		c.OptimisticInterval = DefaultOptimisticInterval
	}
	if c.ReceiveBatch == 0 {
		c.ReceiveBatch = defaultReceiveBatch
	}
	if c.ReceiveWait == 0 {
		c.ReceiveWait = defaultReceiveWait
	}
	return c
}

// New constructs a Node. It panics on an invariant violation in one of
// the subsystems it wires up (e.g. miss_threshold <= grace_period),
// matching their own construction-time fail-fast behavior.
func New(cfg Config, tr transport.Transport, logger *zap.Logger, m *metrics.Metrics) *Node {
	cfg = cfg.withDefaults()

	return &Node{
		cfg:       cfg,
		transport: tr,
		logger:    logger,
		metrics:   m,

		gossip:     gossip.NewNode(cfg.SelfID),
		heartbeat:  heartbeat.NewNode(cfg.SelfID, cfg.MissThreshold, cfg.GracePeriod),
		choking:    choking.NewNode(cfg.SelfID, cfg.MaxUnchoked, cfg.OptimisticInterval),
		reputation: reputation.NewNode(cfg.SelfID),
		endpoints:  endpointcache.NewCache(24 * time.Hour),

		localCounts:     map[string]int{},
		observedReports: map[string]map[string]int{},

		closing: make(chan chan error),
	}
}

// Node is the node runtime: the outer poll/dispatch/periodic loop plus
// the application layer (publisher + auditor) running on top of it.
type Node struct {
	cfg       Config
	transport transport.Transport
	logger    *zap.Logger
	metrics   *metrics.Metrics

	gossip     *gossip.Node
	heartbeat  *heartbeat.Node
	choking    *choking.Node
	reputation *reputation.Node
	endpoints  *endpointcache.Cache

	round      int
	pingSeq    int
	catalogIdx int

	// content_id -> locally observed view count
	localCounts map[string]int
	// content_id -> peer_id -> reported count, collected between audits
	observedReports map[string]map[string]int

	lastGossip, lastHeartbeat, lastChoking time.Time
	lastReputation, lastPublish, lastAudit time.Time

	closing chan chan error
	stopped sync.WaitGroup
}

// Bootstrap announces self to a set of well-known bootstrap peers by
// sending HELLO. Failures to reach individual peers are aggregated and
// returned, but never abort the attempt against the remaining peers —
// gossip/heartbeat recover from a missed bootstrap on their own.
func (n *Node) Bootstrap(bootstrapIDs []string) error {
	var errs error
	for _, peerID := range bootstrapIDs {
		if peerID == n.cfg.SelfID {
			continue
		}
		if ok := n.transport.Send(peerID, protocol.Hello(n.cfg.SelfID, n.cfg.Endpoint)); !ok {
			errs = multierr.Append(errs, fmt.Errorf("bootstrap: failed to reach %s", peerID))
			continue
		}
		n.countSend(protocol.HELLO)
	}
	return errs
}

// Run starts the outer loop in a background goroutine and returns
// immediately; the loop keeps running until Stop is called. It implements
// the teacher's Run()/Stop() worker shape so it composes the same way
// their background workers do.
func (n *Node) Run() error {
	n.stopped.Add(1)
	go n.loop()
	return nil
}

// Stop requests a graceful shutdown and waits for the loop to exit.
func (n *Node) Stop() error {
	errch := make(chan error)
	n.closing <- errch
	err := <-errch
	n.stopped.Wait()
	return err
}

func (n *Node) loop() {
	defer n.stopped.Done()

	for {
		select {
		case errch := <-n.closing:
			errch <- nil
			return
		default:
		}

		n.round++
		if n.metrics != nil {
			n.metrics.RoundsTotal.Inc()
		}

		msgs := n.transport.Receive(n.cfg.SelfID, n.cfg.ReceiveBatch, n.cfg.ReceiveWait)
		for _, m := range msgs {
			n.dispatch(m)
			n.transport.Delete(n.cfg.SelfID, m.Receipt)
		}

		n.runPeriodicTasks()
		n.gossip.AgeEntries()
		n.endpoints.EvictExpired()
		n.reportGauges()
	}
}

// dispatch routes a single message by type. Self-echoes are dropped
// silently, as the transport may echo sends back to the sender.
func (n *Node) dispatch(m protocol.Message) {
	if m.Sender == n.cfg.SelfID {
		return
	}
	if n.metrics != nil {
		n.metrics.MessagesReceivedTotal.WithLabelValues(m.Type).Inc()
	}

	switch m.Type {
	case protocol.HELLO:
		n.handleHello(m)
	case protocol.PEER_LIST:
		n.handlePeerList(m)
	case protocol.PING:
		n.handlePing(m)
	case protocol.PONG:
		n.handlePong(m)
	case protocol.VIEW_EVENT:
		n.handleViewEvent(m)
	case protocol.AUDIT_RESULT:
		n.handleAuditResult(m)
	case protocol.CHOKE:
		n.logEvent("peer declared CHOKE", m.Sender)
	case protocol.UNCHOKE:
		n.logEvent("peer declared UNCHOKE", m.Sender)
	default:
		if n.metrics != nil {
			n.metrics.MessagesDroppedTotal.WithLabelValues("unknown_type").Inc()
		}
		n.warn("dropped message of unknown type", zap.String("type", m.Type), zap.String("sender", m.Sender))
	}
}

func (n *Node) registerPeer(nodeID, endpoint string) {
	n.gossip.AddPeer(nodeID, endpoint)
	n.heartbeat.AddPeer(nodeID)
	n.choking.AddPeer(nodeID)
	n.reputation.AddPeer(nodeID)
	n.endpoints.Put(nodeID, endpoint)
}

func (n *Node) handleHello(m protocol.Message) {
	n.registerPeer(m.Sender, m.Endpoint)
	n.send(m.Sender, protocol.PeerListMsg(n.cfg.SelfID, n.gossip.GetPeerListMessage(n.cfg.Endpoint)))
}

func (n *Node) handlePeerList(m protocol.Message) {
	refs := make([]gossip.PeerRef, 0, len(m.Peers))
	for _, p := range m.Peers {
		if p.NodeID == n.cfg.SelfID {
			continue
		}
		if _, known := n.gossip.Endpoint(p.NodeID); !known {
			n.registerPeer(p.NodeID, p.Endpoint)
		} else {
			n.endpoints.Put(p.NodeID, p.Endpoint)
		}
		refs = append(refs, gossip.PeerRef{NodeID: p.NodeID, Endpoint: p.Endpoint})
	}
	n.gossip.ReceivePeerList(refs, m.Sender)
}

func (n *Node) handlePing(m protocol.Message) {
	n.send(m.Sender, protocol.Pong(n.cfg.SelfID, m.Seq))
	n.choking.RecordContribution(m.Sender, 1)
	n.reputation.RecordContribution(m.Sender, 1)
}

func (n *Node) handlePong(m protocol.Message) {
	n.heartbeat.ReceivePong(m.Sender, n.round)
	n.reputation.RecordHeartbeat(m.Sender, true)
}

func (n *Node) handleViewEvent(m protocol.Message) {
	if _, ok := n.observedReports[m.ContentID]; !ok {
		n.observedReports[m.ContentID] = map[string]int{}
	}
	n.observedReports[m.ContentID][m.Sender] = m.Count
	n.choking.RecordContribution(m.Sender, 1)
	n.reputation.RecordContribution(m.Sender, 1)
}

func (n *Node) handleAuditResult(m protocol.Message) {
	n.logEvent(fmt.Sprintf("audit result for %s: count=%d confidence=%.4f", m.ContentID, m.AgreedCount, m.Confidence), m.Sender)
	n.choking.RecordContribution(m.Sender, 1)
	n.reputation.RecordContribution(m.Sender, 1)
}

// runPeriodicTasks fires each timer whose interval has elapsed, in the
// fixed order gossip -> heartbeat -> choking -> reputation, followed by
// the application-layer publisher and auditor.
func (n *Node) runPeriodicTasks() {
	now := time.Now()

	if now.Sub(n.lastGossip) >= n.cfg.GossipInterval {
		n.doGossipRound()
		n.lastGossip = now
	}
	if now.Sub(n.lastHeartbeat) >= n.cfg.HeartbeatInterval {
		n.doHeartbeatRound()
		n.lastHeartbeat = now
	}
	if now.Sub(n.lastChoking) >= n.cfg.ChokingInterval {
		n.doChokingRound()
		n.lastChoking = now
	}
	if now.Sub(n.lastReputation) >= n.cfg.ReputationInterval {
		n.reputation.UpdateAllScores()
		n.lastReputation = now
	}
	if now.Sub(n.lastPublish) >= n.cfg.PublishInterval {
		n.doPublish()
		n.lastPublish = now
	}
	if now.Sub(n.lastAudit) >= n.cfg.AuditInterval {
		n.doAudit()
		n.lastAudit = now
	}
}

func (n *Node) doGossipRound() {
	target, ok := n.gossip.PickGossipTarget()
	if !ok {
		return
	}
	n.send(target, protocol.PeerListMsg(n.cfg.SelfID, n.gossip.GetPeerListMessage(n.cfg.Endpoint)))
}

func (n *Node) doHeartbeatRound() {
	n.pingSeq++
	for _, id := range n.heartbeat.SendPings(n.round) {
		n.send(id, protocol.Ping(n.cfg.SelfID, n.pingSeq))
	}

	for _, id := range n.allTrackedHeartbeatPeers() {
		snap, ok := n.heartbeat.Snapshot(id)
		if !ok || snap.TotalPingsSent == 0 {
			continue
		}
		if snap.LastPongRound < n.round-1 {
			n.heartbeat.RecordMiss(id, n.round)
		}
	}
	for _, line := range n.heartbeat.FlushLog() {
		n.logEvent("heartbeat transition", line)
	}
}

func (n *Node) allTrackedHeartbeatPeers() []string {
	out := n.heartbeat.GetAlivePeers()
	out = append(out, n.heartbeat.GetSuspectPeers()...)
	out = append(out, n.heartbeat.GetDeadPeers()...)
	return out
}

func (n *Node) doChokingRound() {
	n.choking.RunChokingRound()
	for _, line := range n.choking.FlushLog() {
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "CHOKE":
			n.send(parts[1], protocol.Choke(n.cfg.SelfID))
		case "UNCHOKE":
			n.send(parts[1], protocol.Unchoke(n.cfg.SelfID))
		}
	}
}

// doPublish picks the next content id round-robin, increments its local
// view count, and reports it to every currently ALIVE peer.
func (n *Node) doPublish() {
	if len(n.cfg.ContentCatalog) == 0 {
		return
	}
	contentID := n.cfg.ContentCatalog[n.catalogIdx%len(n.cfg.ContentCatalog)]
	n.catalogIdx++

	n.localCounts[contentID]++
	count := n.localCounts[contentID]
	eventID := protocol.NewEventID()
	adID := "ad-" + contentID

	msg := protocol.ViewEvent(n.cfg.SelfID, eventID, contentID, count, adID)
	for _, peerID := range n.heartbeat.GetAlivePeers() {
		n.send(peerID, msg)
	}
}

// doAudit runs a reputation-weighted vote for every content id with at
// least one collected report (including our own running count as a
// self-report), scores each voter's accuracy, clears the collected
// reports, and broadcasts the result.
func (n *Node) doAudit() {
	for contentID, reports := range n.observedReports {
		votes := map[string]int{}
		for peerID, count := range reports {
			votes[peerID] = count
		}
		if count, ok := n.localCounts[contentID]; ok {
			votes[n.cfg.SelfID] = count
		}
		if len(votes) == 0 {
			continue
		}

		agreedCount, confidence, accurate := n.reputation.WeightedMajorityVoteDetailed(votes)
		voters := make([]string, 0, len(votes))
		for peerID, wasAccurate := range accurate {
			if peerID == n.cfg.SelfID {
				continue
			}
			n.reputation.RecordReport(peerID, wasAccurate)
			voters = append(voters, peerID)
		}

		delete(n.observedReports, contentID)

		result := protocol.AuditResult(n.cfg.SelfID, contentID, agreedCount, confidence, voters)
		for _, peerID := range n.heartbeat.GetAlivePeers() {
			n.send(peerID, result)
		}
	}
}

func (n *Node) send(target string, msg protocol.Message) {
	if ok := n.transport.Send(target, msg); !ok {
		if n.metrics != nil {
			n.metrics.MessagesDroppedTotal.WithLabelValues("send_failed").Inc()
		}
		n.warn("send failed", zap.String("target", target), zap.String("type", msg.Type))
		return
	}
	n.countSend(msg.Type)
}

func (n *Node) countSend(msgType string) {
	if n.metrics != nil {
		n.metrics.MessagesSentTotal.WithLabelValues(msgType).Inc()
	}
}

func (n *Node) reportGauges() {
	if n.metrics == nil {
		return
	}
	n.metrics.KnownPeers.Set(float64(n.gossip.KnownPeerCount()))
	n.metrics.AlivePeers.Set(float64(len(n.heartbeat.GetAlivePeers())))
	n.metrics.SuspectPeers.Set(float64(len(n.heartbeat.GetSuspectPeers())))
	n.metrics.DeadPeers.Set(float64(len(n.heartbeat.GetDeadPeers())))
	n.metrics.UnchokedPeers.Set(float64(len(n.choking.GetUnchokedPeers())))
	for _, p := range n.reputation.GetRankedPeers() {
		n.metrics.TrustScore.WithLabelValues(p.NodeID).Set(p.TrustScore())
	}
}

func (n *Node) logEvent(msg, detail string) {
	if n.logger == nil {
		return
	}
	n.logger.Info(msg, zap.String("detail", detail))
}

func (n *Node) warn(msg string, fields ...zap.Field) {
	if n.logger == nil {
		return
	}
	n.logger.Warn(msg, fields...)
}
