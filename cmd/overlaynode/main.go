// Command overlaynode runs a single ad-view overlay node: the gossip,
// heartbeat, choking, and reputation subsystems plus the application
// layer that publishes and audits view-count reports, all coordinated
// by a single-threaded runtime loop.
package main

func main() {
	Execute()
}
