// Package assignment decides which hosts a slot is attributed to.
//
// Collective events need every host. Round-robin events need every fixed
// host plus one rotating host per group, picked by the lowest booking count
// in the current period. Managed events carry a static host list.
package assignment

import (
	"errors"
	"fmt"
	"sort"

	"github.com/example/availability-engine/internal/slots"
)

// SchedulingType selects the attribution strategy.
type SchedulingType string

const (
	Collective SchedulingType = "COLLECTIVE"
	RoundRobin SchedulingType = "ROUND_ROBIN"
	Managed    SchedulingType = "MANAGED"
)

// DefaultWeight is used for hosts configured without a positive weight.
const DefaultWeight = 100

var (
	// ErrUnknownSchedulingType indicates a scheduling type outside the known set.
	ErrUnknownSchedulingType = errors.New("assignment: unknown scheduling type")
	// ErrNoHosts indicates an event type without hosts.
	ErrNoHosts = errors.New("assignment: event type has no hosts")
)

// Host is one member of an event type's host list.
type Host struct {
	UserID   string
	IsFixed  bool
	Priority int
	Weight   int
	GroupID  string
}

func (h Host) weight() int {
	if h.Weight > 0 {
		return h.Weight
	}
	return DefaultWeight
}

// Config describes a resolver for one request.
type Config struct {
	Type           SchedulingType
	Hosts          []Host
	WeightsEnabled bool
	// Counts holds each host's bookings in the current fairness period.
	Counts map[string]int
	// Eligible restricts the round-robin pool, typically to segment matches.
	// Nil leaves every round-robin host eligible.
	Eligible map[string]bool
	// ContactOwnerID takes precedence over the ranking when free and eligible.
	ContactOwnerID string
}

// Resolver attributes candidate ticks to hosts.
type Resolver struct {
	kind           SchedulingType
	hosts          []Host
	fixed          []string
	groups         [][]Host
	weightsEnabled bool
	counts         map[string]int
	contactOwner   string
}

// NewResolver validates the configuration and precomputes host groups.
func NewResolver(cfg Config) (*Resolver, error) {
	switch cfg.Type {
	case Collective, RoundRobin, Managed:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchedulingType, cfg.Type)
	}
	if len(cfg.Hosts) == 0 {
		return nil, ErrNoHosts
	}

	r := &Resolver{
		kind:           cfg.Type,
		hosts:          append([]Host(nil), cfg.Hosts...),
		weightsEnabled: cfg.WeightsEnabled,
		counts:         make(map[string]int, len(cfg.Counts)),
		contactOwner:   cfg.ContactOwnerID,
	}
	for id, n := range cfg.Counts {
		r.counts[id] = n
	}

	if cfg.Type != RoundRobin {
		return r, nil
	}

	byGroup := make(map[string][]Host)
	var order []string
	configured := false
	for _, h := range cfg.Hosts {
		if h.IsFixed {
			r.fixed = append(r.fixed, h.UserID)
			continue
		}
		configured = true
		if cfg.Eligible != nil && !cfg.Eligible[h.UserID] {
			continue
		}
		if _, seen := byGroup[h.GroupID]; !seen {
			order = append(order, h.GroupID)
		}
		byGroup[h.GroupID] = append(byGroup[h.GroupID], h)
	}
	sort.Strings(order)
	for _, g := range order {
		r.groups = append(r.groups, byGroup[g])
	}
	if configured && len(r.groups) == 0 {
		// Every rotating host was filtered out; no tick can be attributed.
		r.groups = [][]Host{nil}
	}
	return r, nil
}

// Type returns the scheduling type.
func (r *Resolver) Type() SchedulingType { return r.kind }

// HostIDs lists every configured host.
func (r *Resolver) HostIDs() []string {
	out := make([]string, 0, len(r.hosts))
	for _, h := range r.hosts {
		out = append(out, h.UserID)
	}
	return out
}

// Assign returns the hosts attributed to a tick at which the free hosts are
// available, or false when the tick cannot be staffed.
func (r *Resolver) Assign(free []string) ([]string, bool) {
	available := make(map[string]bool, len(free))
	for _, id := range free {
		available[id] = true
	}

	switch r.kind {
	case Collective, Managed:
		out := make([]string, 0, len(r.hosts))
		for _, h := range r.hosts {
			if !available[h.UserID] {
				return nil, false
			}
			out = append(out, h.UserID)
		}
		return out, true
	default:
		out := make([]string, 0, len(r.fixed)+len(r.groups))
		for _, id := range r.fixed {
			if !available[id] {
				return nil, false
			}
			out = append(out, id)
		}
		for _, group := range r.groups {
			pick, ok := r.pick(group, available)
			if !ok {
				return nil, false
			}
			out = append(out, pick)
		}
		return out, true
	}
}

// Record counts a booking against a host, shifting later picks.
func (r *Resolver) Record(hostID string) {
	r.counts[hostID]++
}

// Rank orders round-robin hosts: fewest bookings first, then higher weight,
// then higher priority, then user ID.
func (r *Resolver) Rank(hosts []Host) []Host {
	ranked := append([]Host(nil), hosts...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if r.weightsEnabled {
			la := float64(r.counts[a.UserID]) / float64(a.weight())
			lb := float64(r.counts[b.UserID]) / float64(b.weight())
			if la != lb {
				return la < lb
			}
		} else if ca, cb := r.counts[a.UserID], r.counts[b.UserID]; ca != cb {
			return ca < cb
		}
		if a.weight() != b.weight() {
			return a.weight() > b.weight()
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.UserID < b.UserID
	})
	return ranked
}

func (r *Resolver) pick(group []Host, available map[string]bool) (string, bool) {
	if r.contactOwner != "" && available[r.contactOwner] {
		for _, h := range group {
			if h.UserID == r.contactOwner {
				return h.UserID, true
			}
		}
	}
	for _, h := range r.Rank(group) {
		if available[h.UserID] {
			return h.UserID, true
		}
	}
	return "", false
}

// Resolve turns generator candidates into attributed slots, dropping ticks
// that cannot be staffed. Seated slots report the fewest seats left across
// the attributed hosts.
func (r *Resolver) Resolve(candidates []slots.Candidate) []slots.Slot {
	out := make([]slots.Slot, 0, len(candidates))
	for _, c := range candidates {
		hosts, ok := r.Assign(c.HostIDs)
		if !ok {
			continue
		}
		slot := slots.Slot{Start: c.Start, End: c.End, HostIDs: hosts}
		if c.SeatsLeft != nil {
			slot.SeatsRemaining = -1
			for _, id := range hosts {
				if left := c.SeatsLeft[id]; slot.SeatsRemaining < 0 || left < slot.SeatsRemaining {
					slot.SeatsRemaining = left
				}
			}
		}
		out = append(out, slot)
	}
	return out
}
