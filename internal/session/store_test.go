package session

import (
	"sync"
	"testing"

	"deskline/internal/domain"
)

func TestStoreSetGetClear(t *testing.T) {
	st := NewStore()
	if _, ok := st.Get("alice"); ok {
		t.Fatalf("fresh store should have no session")
	}
	st.Set("alice", domain.Session{State: domain.StateEnteringRequest, CategoryID: "c1"})
	s, ok := st.Get("alice")
	if !ok || s.State != domain.StateEnteringRequest || s.CategoryID != "c1" {
		t.Fatalf("get after set: %v %+v", ok, s)
	}
	if s.UpdatedAt == "" {
		t.Fatalf("set should stamp UpdatedAt")
	}
	st.Clear("alice")
	if _, ok := st.Get("alice"); ok {
		t.Fatalf("get after clear should miss")
	}
}

func TestStoreKeysIndependent(t *testing.T) {
	st := NewStore()
	st.Set("alice", domain.Session{State: domain.StateSelectingCategory})
	st.Set("bob", domain.Session{State: domain.StateWritingAnswer, RequestID: "r1"})
	st.Clear("alice")
	s, ok := st.Get("bob")
	if !ok || s.RequestID != "r1" {
		t.Fatalf("bob's session lost: %v %+v", ok, s)
	}
}

func TestUpdateCheckAndSet(t *testing.T) {
	st := NewStore()
	st.Set("alice", domain.Session{State: domain.StateConfirmingRequest, Draft: "text"})

	// first caller claims the session
	var claimed bool
	st.Update("alice", func(s domain.Session, exists bool) (domain.Session, bool) {
		claimed = exists && s.State == domain.StateConfirmingRequest
		return domain.Session{}, false
	})
	if !claimed {
		t.Fatalf("first update should see the session")
	}

	// second caller finds nothing
	st.Update("alice", func(s domain.Session, exists bool) (domain.Session, bool) {
		if exists {
			t.Fatalf("claimed session still visible: %+v", s)
		}
		return s, exists
	})
}

func TestUpdateConcurrentSingleClaim(t *testing.T) {
	st := NewStore()
	st.Set("alice", domain.Session{State: domain.StateConfirmingRequest})

	const n = 16
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Update("alice", func(s domain.Session, exists bool) (domain.Session, bool) {
				if exists && s.State == domain.StateConfirmingRequest {
					mu.Lock()
					wins++
					mu.Unlock()
					return domain.Session{}, false
				}
				return s, exists
			})
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one claim, got %d", wins)
	}
}
