package engine

import (
	"sort"

	"labflow/internal/domain"
)

// Machine is a static status transition table for one resource kind.
type Machine struct {
	Kind  string
	Edges map[string][]string
}

// Transition returns to when from -> to is in the table.
func (m Machine) Transition(from, to string) (string, error) {
	for _, next := range m.Edges[from] {
		if next == to {
			return to, nil
		}
	}
	return "", TransitionError{Kind: m.Kind, From: from, To: to}
}

// States lists every state named in the table.
func (m Machine) States() []string {
	seen := map[string]struct{}{}
	for from, tos := range m.Edges {
		seen[from] = struct{}{}
		for _, to := range tos {
			seen[to] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

var SiteMachine = Machine{
	Kind: "site",
	Edges: map[string][]string{
		domain.SitePlanned:    {domain.SiteInProgress, domain.SiteCancelled},
		domain.SiteInProgress: {domain.SitePaused, domain.SiteFinished, domain.SiteCancelled},
		domain.SitePaused:     {domain.SiteInProgress, domain.SiteCancelled},
		domain.SiteFinished:   {},
		domain.SiteCancelled:  {},
	},
}

var RequestMachine = Machine{
	Kind: "request",
	Edges: map[string][]string{
		domain.RequestPending:    {domain.RequestAccepted, domain.RequestCancelled},
		domain.RequestAccepted:   {domain.RequestInProgress, domain.RequestCancelled},
		domain.RequestInProgress: {domain.RequestFinished, domain.RequestCancelled},
		domain.RequestFinished:   {},
		domain.RequestCancelled:  {},
	},
}

var ResultMachine = Machine{
	Kind: "result",
	Edges: map[string][]string{
		domain.ResultPending:    {domain.ResultInProgress},
		domain.ResultInProgress: {domain.ResultFinished},
		domain.ResultFinished:   {},
	},
}
