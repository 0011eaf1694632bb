package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/mongodb-labs/session-core/description"
	"github.com/mongodb-labs/session-core/internal/csot"
	"github.com/mongodb-labs/session-core/internal/logger"
)

var _ csot.RTTMonitor = (*ewmaRTT)(nil)

// HelloFunc probes one node and reports its current description, standing
// in for the wire-protocol "hello"/"isMaster" command this core does not
// itself implement.
type HelloFunc func(ctx context.Context, address string) (description.Node, error)

// nodeMonitor runs the heartbeat loop for a single node and publishes new
// snapshots through publish.
type nodeMonitor struct {
	address string
	hello   HelloFunc
	log     *logger.Logger
	rtt     *ewmaRTT

	interval               time.Duration
	minInterval            time.Duration
	socketTimeout          time.Duration
	maxConsecutiveFailures int

	publish func(description.Node)

	immediate chan struct{}
	stop      chan struct{}
	done      chan struct{}
}

func newNodeMonitor(addr string, hello HelloFunc, cfg monitorConfig, publish func(description.Node)) *nodeMonitor {
	return &nodeMonitor{
		address:                addr,
		hello:                  hello,
		log:                    cfg.log,
		rtt:                    &ewmaRTT{},
		interval:               cfg.interval,
		minInterval:            cfg.minInterval,
		socketTimeout:          cfg.socketTimeout,
		maxConsecutiveFailures: cfg.maxConsecutiveFailures,
		publish:                publish,
		immediate:              make(chan struct{}, 1),
		stop:                   make(chan struct{}),
		done:                   make(chan struct{}),
	}
}

// ewmaRTT is a minimal csot.RTTMonitor: an exponentially-weighted moving
// average plus a running minimum, updated once per successful heartbeat.
// alphaRTT matches the smoothing factor MongoDB drivers conventionally use
// for averaging round-trip times.
type ewmaRTT struct {
	mu      sync.Mutex
	average time.Duration
	min     time.Duration
	set     bool
}

const alphaRTT = 0.2

func (r *ewmaRTT) observe(sample time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set {
		r.average = sample
		r.min = sample
		r.set = true
		return
	}
	r.average = time.Duration(alphaRTT*float64(sample) + (1-alphaRTT)*float64(r.average))
	if sample < r.min {
		r.min = sample
	}
}

// EWMA implements csot.RTTMonitor.
func (r *ewmaRTT) EWMA() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.average
}

// Min implements csot.RTTMonitor.
func (r *ewmaRTT) Min() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.min
}

// P90 implements csot.RTTMonitor. This core keeps only the EWMA and running
// minimum, not a latency histogram, so P90 is approximated as the EWMA.
func (r *ewmaRTT) P90() time.Duration {
	return r.EWMA()
}

type monitorConfig struct {
	interval               time.Duration
	minInterval            time.Duration
	socketTimeout          time.Duration
	maxConsecutiveFailures int
	log                    *logger.Logger
}

func (m *nodeMonitor) start() {
	go m.run()
}

func (m *nodeMonitor) stopAndWait() {
	close(m.stop)
	<-m.done
}

// requestImmediateCheck wakes the monitor to heartbeat right away, used by
// Cluster.VerifyState.
func (m *nodeMonitor) requestImmediateCheck() {
	select {
	case m.immediate <- struct{}{}:
	default:
	}
}

func (m *nodeMonitor) run() {
	defer close(m.done)

	connected := false
	consecutiveFailures := 0

	for {
		ctx, cancel := csot.WithTimeout(context.Background(), m.socketTimeout)
		start := time.Now()
		node, err := m.hello(ctx, m.address)
		elapsed := time.Since(start)
		cancel()

		if err != nil {
			consecutiveFailures++
			node.Address = m.address
			node.ConsecutiveFailure = consecutiveFailures
			node.LastError = err
			if consecutiveFailures >= m.maxConsecutiveFailures {
				node.Liveness = description.LivenessConnectionFailed
				connected = false
			} else {
				node.Liveness = description.LivenessConnecting
			}
			m.log.Debug(logger.ComponentCluster, "heartbeat failed", "address", m.address, "error", err, "consecutiveFailures", consecutiveFailures)
		} else {
			consecutiveFailures = 0
			node.Address = m.address
			node.Liveness = description.LivenessConnected
			connected = true
			m.rtt.observe(elapsed)
			node.AverageRTT = m.rtt.EWMA()
			m.log.Debug(logger.ComponentCluster, "heartbeat ok", "address", m.address, "role", node.Role.String(), "rtt", node.AverageRTT)
		}

		m.publish(node)

		wait := m.interval
		if !connected {
			wait = m.minInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-m.stop:
			timer.Stop()
			return
		case <-m.immediate:
			timer.Stop()
		case <-timer.C:
		}
	}
}
