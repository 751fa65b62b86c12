package session

import "testing"

func TestState_Invariants(t *testing.T) {
	t.Run("new session starts planning with zero retries used", func(t *testing.T) {
		s := New("S1", UserContext{UserID: "u1", Role: RoleUser}, "/img cat", 10)
		if s.Status != StatusPlanning {
			t.Errorf("expected StatusPlanning, got %v", s.Status)
		}
		if s.Retries.Used != 0 || s.Retries.Total != 10 {
			t.Errorf("unexpected retry budget: %+v", s.Retries)
		}
		if s.CurrentStep > len(s.Plan) {
			t.Errorf("current_step must be <= len(plan)")
		}
	})

	t.Run("generates a session id when none supplied", func(t *testing.T) {
		s := New("", UserContext{}, "goal", 1)
		if s.SessionID == "" {
			t.Fatal("expected a generated session id")
		}
	})

	t.Run("critical error forces failed status", func(t *testing.T) {
		s := New("S1", UserContext{}, "goal", 1)
		s.AddError(SeverityCritical, "", "boom", nil)
		if s.Status != StatusFailed {
			t.Errorf("expected StatusFailed after critical error, got %v", s.Status)
		}
		if !s.HasCriticalErrors() {
			t.Errorf("expected HasCriticalErrors true")
		}
	})

	t.Run("non-critical error does not change status", func(t *testing.T) {
		s := New("S1", UserContext{}, "goal", 1)
		s.AddError(SeverityWarning, "", "minor", nil)
		if s.Status != StatusPlanning {
			t.Errorf("expected status unchanged, got %v", s.Status)
		}
	})

	t.Run("terminal session forbids further mutation conceptually", func(t *testing.T) {
		s := New("S1", UserContext{}, "goal", 1)
		s.Status = StatusCompleted
		if !s.Terminal() {
			t.Errorf("expected Terminal() true for completed session")
		}
	})
}

func TestPlanItem_DependenciesAndRetry(t *testing.T) {
	t.Run("dependencies satisfied only when all deps completed", func(t *testing.T) {
		items := []PlanItem{
			{ID: "a", Status: ItemCompleted},
			{ID: "b", Status: ItemPending, Dependencies: []string{"a"}},
			{ID: "c", Status: ItemPending, Dependencies: []string{"a", "b"}},
		}
		byID := map[string]*PlanItem{}
		for i := range items {
			byID[items[i].ID] = &items[i]
		}
		if !items[1].DependenciesSatisfied(byID) {
			t.Errorf("expected b's dependencies satisfied")
		}
		if items[2].DependenciesSatisfied(byID) {
			t.Errorf("expected c's dependencies not satisfied (b not completed)")
		}
	})

	t.Run("can retry only while under max_retries", func(t *testing.T) {
		p := PlanItem{Status: ItemFailed, RetryCount: 1, MaxRetries: 2}
		if !p.CanRetry() {
			t.Errorf("expected CanRetry true")
		}
		p.RetryCount = 2
		if p.CanRetry() {
			t.Errorf("expected CanRetry false once retry_count == max_retries")
		}
	})
}

func TestState_FailedFraction(t *testing.T) {
	cases := []struct {
		name     string
		statuses []ItemStatus
		want     float64
	}{
		{"empty plan", nil, 0},
		{"none failed", []ItemStatus{ItemCompleted, ItemPending}, 0},
		{"half failed", []ItemStatus{ItemFailed, ItemCompleted}, 0.5},
		{"all failed", []ItemStatus{ItemFailed, ItemFailed}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := State{}
			for _, st := range tc.statuses {
				s.Plan = append(s.Plan, PlanItem{Status: st})
			}
			if got := s.FailedFraction(); got != tc.want {
				t.Errorf("FailedFraction() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestState_RecentErrors(t *testing.T) {
	s := State{}
	for i := 0; i < 7; i++ {
		s.AddError(SeverityWarning, "", "err", nil)
	}
	recent := s.RecentErrors(5)
	if len(recent) != 5 {
		t.Fatalf("expected 5 recent errors, got %d", len(recent))
	}
}

func TestState_Clone_DoesNotAlias(t *testing.T) {
	s := New("S1", UserContext{}, "goal", 1)
	s.Plan = append(s.Plan, PlanItem{ID: "a"})
	clone := s.Clone()
	clone.Plan[0].Status = ItemRunning
	if s.Plan[0].Status == ItemRunning {
		t.Errorf("mutating clone's plan must not affect original")
	}
}
