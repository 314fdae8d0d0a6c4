package domain

// statusEdges is the closed request lifecycle graph. A declined answer
// re-enters the pool through answered -> approved.
var statusEdges = map[string][]string{
	StatusPending:  {StatusApproved, StatusDeclined},
	StatusApproved: {StatusAssigned},
	StatusAssigned: {StatusAnswered, StatusApproved},
	StatusAnswered: {StatusClosed, StatusApproved},
}

// ValidTransition reports whether from -> to is an edge of the lifecycle
// graph. Terminal statuses have no outgoing edges.
func ValidTransition(from, to string) bool {
	for _, next := range statusEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}
