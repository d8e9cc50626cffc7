package manager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/web3ekko/node-manager/pkg/hexnum"
	"github.com/web3ekko/node-manager/pkg/nodeproc"
	"github.com/web3ekko/node-manager/pkg/updates"
)

// DefaultPollInterval is how often the peer count is refreshed.
const DefaultPollInterval = 3 * time.Second

// PeerPoller periodically asks the node for its peer count and emits each
// reading as a normalized update. A failed poll is reported and the timer
// keeps running; the next tick retries.
type PeerPoller struct {
	node     nodeproc.Node
	sink     updates.Sink
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPeerPoller creates a poller. interval <= 0 selects DefaultPollInterval.
func NewPeerPoller(node nodeproc.Node, sink updates.Sink, interval time.Duration) *PeerPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PeerPoller{node: node, sink: sink, interval: interval}
}

// Start begins polling. Calling Start while already running is a no-op.
func (p *PeerPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
}

func (p *PeerPoller) run(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll performs one net_peerCount round trip. Errors never stop the loop.
func (p *PeerPoller) poll(ctx context.Context) {
	var count string
	if err := p.node.Call(ctx, "net_peerCount", nil, &count); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("PeerPoller: net_peerCount failed: %v", err)
		p.sink.Emit(updates.Error{Source: "poller", Message: fmt.Sprintf("peer count poll failed: %v", err)})
		return
	}
	p.sink.Emit(updates.PeerCount{Count: hexnum.Decimal(count)})
}

// Cancel stops the polling loop and waits for it to finish. A no-op when the
// poller was never started; safe to call more than once.
func (p *PeerPoller) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
}
