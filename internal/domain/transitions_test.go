package domain

import "testing"

func TestValidTransition(t *testing.T) {
	allowed := [][2]string{
		{StatusPending, StatusApproved},
		{StatusPending, StatusDeclined},
		{StatusApproved, StatusAssigned},
		{StatusAssigned, StatusAnswered},
		{StatusAssigned, StatusApproved},
		{StatusAnswered, StatusClosed},
		{StatusAnswered, StatusApproved},
	}
	for _, e := range allowed {
		if !ValidTransition(e[0], e[1]) {
			t.Errorf("%s -> %s should be allowed", e[0], e[1])
		}
	}

	forbidden := [][2]string{
		{StatusPending, StatusAssigned},
		{StatusApproved, StatusClosed},
		{StatusDeclined, StatusApproved},
		{StatusClosed, StatusApproved},
		{StatusAnswered, StatusDeclined},
	}
	for _, e := range forbidden {
		if ValidTransition(e[0], e[1]) {
			t.Errorf("%s -> %s should be forbidden", e[0], e[1])
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []string{StatusDeclined, StatusClosed} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []string{StatusPending, StatusApproved, StatusAssigned, StatusAnswered} {
		if IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
