// Package recipient maps recipients to the device addresses notifications are delivered to.
package recipient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role groups recipients for announcements.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
	RoleUser     Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEmployee, RoleUser:
		return true
	}
	return false
}

// ErrInvalid is returned for malformed registrations.
var ErrInvalid = errors.New("invalid recipient registration")

// Recipient is a person notifications can be addressed to. Addresses are most recent first.
type Recipient struct {
	ID        string   `json:"id" bson:"_id"`
	Role      Role     `json:"role" bson:"role"`
	Addresses []string `json:"addresses" bson:"-"`
}

// Filter narrows Recipients. An empty filter matches everyone.
type Filter struct {
	Role Role     `json:"role,omitempty"`
	IDs  []string `json:"ids,omitempty"`
}

func (f Filter) matches(r *Recipient) bool {
	if f.Role != "" && r.Role != f.Role {
		return false
	}
	if len(f.IDs) > 0 {
		for _, id := range f.IDs {
			if id == r.ID {
				return true
			}
		}
		return false
	}
	return true
}

// Directory resolves recipients to device addresses.
type Directory interface {
	// ResolveAddresses returns the live addresses of a recipient, most recently registered
	// first, without duplicates. Unknown recipients have no addresses.
	ResolveAddresses(ctx context.Context, recipientID string) ([]string, error)
	// RegisterRecipient records a recipient and its role without an address.
	RegisterRecipient(ctx context.Context, recipientID string, role Role) error
	// RegisterAddress attaches address to the recipient, creating the recipient if needed.
	// The same address may belong to several recipients, e.g. one device shared by an
	// employee and an admin account.
	RegisterAddress(ctx context.Context, recipientID string, role Role, address string) error
	// RemoveAddress drops a dead address from every recipient holding it. Removing an
	// unknown address is not an error.
	RemoveAddress(ctx context.Context, address string) error
	// Recipients lists the recipients matching filter together with their addresses.
	Recipients(ctx context.Context, filter Filter) ([]Recipient, error)
}

func validateRegistration(recipientID string, role Role, address string, needAddress bool) (string, error) {
	if strings.TrimSpace(recipientID) == "" {
		return "", fmt.Errorf("%w: recipient id is required", ErrInvalid)
	}
	if role != "" && !role.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	address = strings.TrimSpace(address)
	if needAddress && address == "" {
		return "", fmt.Errorf("%w: address is required", ErrInvalid)
	}
	return address, nil
}

func now() time.Time { return time.Now().UTC() }
