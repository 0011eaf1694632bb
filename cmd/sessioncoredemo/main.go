// Command sessioncoredemo wires together config, cluster, and session to
// show the library's intended call shape end to end: load a Config, bring
// up a Cluster, open a Session, and select a channel for one operation.
//
// It reads its seed list and other settings from SESSIONCORE_* environment
// variables (see config.LoadFromEnv); it does not speak the wire protocol
// itself, so the "hello" probe here is a stub that reports every seed as a
// standalone node without contacting it. A real caller supplies its own HelloFunc
// wired to an actual handshake.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mongodb-labs/session-core/cluster"
	"github.com/mongodb-labs/session-core/config"
	"github.com/mongodb-labs/session-core/description"
	"github.com/mongodb-labs/session-core/session"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("sessioncoredemo: load config: %v", err)
	}

	c := cluster.New(cfg, stubHello)
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Connect(ctx, cfg.ReadPreference); err != nil {
		log.Fatalf("sessioncoredemo: connect: %v", err)
	}

	sess, err := session.New(c, session.EventuallyConsistent)
	if err != nil {
		log.Fatalf("sessioncoredemo: new session: %v", err)
	}
	defer sess.Dispose()

	cp, err := sess.CreateChannelProvider(ctx, cfg.ReadPreference, false)
	if err != nil {
		log.Fatalf("sessioncoredemo: create channel provider: %v", err)
	}
	defer cp.Dispose()

	node, err := cp.Server()
	if err != nil {
		log.Fatalf("sessioncoredemo: server: %v", err)
	}

	fmt.Printf("session %s selected %s (%s)\n", sess.ID(), node.Address, node.Role)
}

func stubHello(ctx context.Context, address string) (description.Node, error) {
	return description.Node{
		Address:  address,
		Role:     description.RoleStandalone,
		Liveness: description.LivenessConnected,
	}, nil
}
