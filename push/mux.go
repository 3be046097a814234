package push

import (
	"context"
	"strings"
)

// Mux routes each address to a gateway by address prefix, e.g. "tg:" to Telegram and
// everything else to FCM.
type Mux struct {
	fallthroughGW Gateway
	prefixes      []string
	routes        map[string]Gateway
}

// NewMux creates a mux whose unmatched addresses go to def.
func NewMux(def Gateway) *Mux {
	return &Mux{fallthroughGW: def, routes: make(map[string]Gateway)}
}

// Route sends addresses starting with prefix to gw.
func (m *Mux) Route(prefix string, gw Gateway) *Mux {
	if _, ok := m.routes[prefix]; !ok {
		m.prefixes = append(m.prefixes, prefix)
	}
	m.routes[prefix] = gw
	return m
}

func (m *Mux) gatewayFor(address string) Gateway {
	best := ""
	for _, p := range m.prefixes {
		if strings.HasPrefix(address, p) && len(p) > len(best) {
			best = p
		}
	}
	if best == "" {
		return m.fallthroughGW
	}
	return m.routes[best]
}

// SendToOne implements Gateway.SendToOne
func (m *Mux) SendToOne(ctx context.Context, address string, p Payload) error {
	gw := m.gatewayFor(address)
	if gw == nil {
		return &SendError{Kind: FailureInvalidAddress, Address: address}
	}
	return gw.SendToOne(ctx, address, p)
}

// SendMulticast implements Gateway.SendMulticast. Addresses are grouped per gateway; a group
// whose call fails counts all its addresses as failed. The call only errors when every
// group failed.
func (m *Mux) SendMulticast(ctx context.Context, addresses []string, p Payload) (MulticastResult, error) {
	var order []Gateway
	groups := make(map[Gateway][]string)
	var unrouted []string
	for _, addr := range addresses {
		gw := m.gatewayFor(addr)
		if gw == nil {
			unrouted = append(unrouted, addr)
			continue
		}
		if _, ok := groups[gw]; !ok {
			order = append(order, gw)
		}
		groups[gw] = append(groups[gw], addr)
	}

	var result MulticastResult
	var lastErr error
	failedGroups := 0
	for _, gw := range order {
		group := groups[gw]
		part, err := gw.SendMulticast(ctx, group, p)
		if err != nil {
			lastErr = err
			failedGroups++
			part = MulticastResult{FailureCount: len(group)}
			for _, addr := range group {
				part.Responses = append(part.Responses, AddressResult{Address: addr, Err: err})
			}
		}
		result.merge(part)
	}
	for _, addr := range unrouted {
		result.FailureCount++
		result.Responses = append(result.Responses, AddressResult{
			Address: addr,
			Err:     &SendError{Kind: FailureInvalidAddress, Address: addr},
		})
	}

	if len(order) > 0 && failedGroups == len(order) {
		return MulticastResult{}, lastErr
	}
	return result, nil
}
