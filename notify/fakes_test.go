package notify

import (
	"context"
	"sync"

	"github.com/jgabriele321/remindd/push"
)

type sendCall struct {
	address string
	payload push.Payload
}

// scriptedGateway fails the addresses listed in failures with the given kind.
type scriptedGateway struct {
	mu        sync.Mutex
	failures  map[string]push.FailureKind
	calls     []sendCall
	multicast [][]string
	result    *push.MulticastResult
	callErr   error
	block     chan struct{}
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{failures: make(map[string]push.FailureKind)}
}

func (g *scriptedGateway) fail(address string, kind push.FailureKind) *scriptedGateway {
	g.failures[address] = kind
	return g
}

func (g *scriptedGateway) SendToOne(ctx context.Context, address string, p push.Payload) error {
	g.mu.Lock()
	g.calls = append(g.calls, sendCall{address: address, payload: p})
	kind, failing := g.failures[address]
	block := g.block
	g.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return &push.SendError{Kind: push.FailureTimeout, Address: address, Err: ctx.Err()}
		}
	}
	if failing {
		return &push.SendError{Kind: kind, Address: address}
	}
	return nil
}

func (g *scriptedGateway) SendMulticast(_ context.Context, addresses []string, _ push.Payload) (push.MulticastResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.multicast = append(g.multicast, addresses)
	if g.callErr != nil {
		return push.MulticastResult{}, g.callErr
	}
	if g.result != nil {
		return *g.result, nil
	}
	var res push.MulticastResult
	for _, a := range addresses {
		if kind, ok := g.failures[a]; ok {
			res.FailureCount++
			res.Responses = append(res.Responses, push.AddressResult{Address: a, Err: &push.SendError{Kind: kind, Address: a}})
			continue
		}
		res.SuccessCount++
		res.Responses = append(res.Responses, push.AddressResult{Address: a})
	}
	return res, nil
}

func (g *scriptedGateway) sentTo() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.address
	}
	return out
}
