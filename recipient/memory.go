package recipient

import (
	"context"
	"sort"
	"sync"
)

// MemoryDirectory keeps the directory in process memory.
type MemoryDirectory struct {
	mu         sync.RWMutex
	recipients map[string]*Recipient
	addresses  map[string]map[string]uint64 // recipient -> address -> registration seq
	seq        uint64
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		recipients: make(map[string]*Recipient),
		addresses:  make(map[string]map[string]uint64),
	}
}

// ResolveAddresses implements Directory.ResolveAddresses
func (d *MemoryDirectory) ResolveAddresses(_ context.Context, recipientID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addressesOf(recipientID), nil
}

func (d *MemoryDirectory) addressesOf(recipientID string) []string {
	type ranked struct {
		addr string
		seq  uint64
	}
	var list []ranked
	for addr, seq := range d.addresses[recipientID] {
		list = append(list, ranked{addr, seq})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq > list[j].seq })

	out := make([]string, 0, len(list))
	for _, r := range list {
		out = append(out, r.addr)
	}
	return out
}

// RegisterRecipient implements Directory.RegisterRecipient
func (d *MemoryDirectory) RegisterRecipient(_ context.Context, recipientID string, role Role) error {
	if _, err := validateRegistration(recipientID, role, "", false); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upsert(recipientID, role)
	return nil
}

func (d *MemoryDirectory) upsert(recipientID string, role Role) {
	r, ok := d.recipients[recipientID]
	if !ok {
		if role == "" {
			role = RoleUser
		}
		d.recipients[recipientID] = &Recipient{ID: recipientID, Role: role}
		return
	}
	if role != "" {
		r.Role = role
	}
}

// RegisterAddress implements Directory.RegisterAddress
func (d *MemoryDirectory) RegisterAddress(_ context.Context, recipientID string, role Role, address string) error {
	address, err := validateRegistration(recipientID, role, address, true)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.upsert(recipientID, role)
	d.seq++
	if d.addresses[recipientID] == nil {
		d.addresses[recipientID] = make(map[string]uint64)
	}
	d.addresses[recipientID][address] = d.seq
	return nil
}

// RemoveAddress implements Directory.RemoveAddress
func (d *MemoryDirectory) RemoveAddress(_ context.Context, address string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, owned := range d.addresses {
		delete(owned, address)
	}
	return nil
}

// Recipients implements Directory.Recipients
func (d *MemoryDirectory) Recipients(_ context.Context, filter Filter) ([]Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Recipient
	for _, r := range d.recipients {
		if !filter.matches(r) {
			continue
		}
		out = append(out, Recipient{ID: r.ID, Role: r.Role, Addresses: d.addressesOf(r.ID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
