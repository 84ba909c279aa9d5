// Package balancer picks the node a new room lands on.
package balancer

import (
	"errors"

	"github.com/skye-cyber/DistriChat/internal/models"
)

// ErrNoCapacity is returned when no eligible node can host another room.
var ErrNoCapacity = errors.New("balancer: no node has capacity")

// Pick returns the least-loaded eligible node from a registry snapshot.
// Eligible means online, not retired, and below its room maximum; degraded
// nodes keep serving their existing rooms but take no new ones. Load is
// compared as active_rooms / max_rooms; ties go to the lexically smaller
// node id so repeated picks are deterministic.
func Pick(nodes []models.Node) (*models.Node, error) {
	var best *models.Node
	for i := range nodes {
		n := &nodes[i]
		if !eligible(n) {
			continue
		}
		if best == nil || less(n, best) {
			best = n
		}
	}
	if best == nil {
		return nil, ErrNoCapacity
	}
	picked := *best
	return &picked, nil
}

func eligible(n *models.Node) bool {
	if n.Retired {
		return false
	}
	if n.Status != models.NodeStatusOnline {
		return false
	}
	return n.ActiveRooms < n.MaxRooms
}

func less(a, b *models.Node) bool {
	ra, rb := a.LoadRatio(), b.LoadRatio()
	if ra != rb {
		return ra < rb
	}
	return a.ID.String() < b.ID.String()
}
