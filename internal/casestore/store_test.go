package casestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// memRepo is an in-memory CaseRepository with failure injection.
type memRepo struct {
	mu      sync.Mutex
	cases   map[string]domain.Case
	order   []string
	saveErr error
}

func newMemRepo() *memRepo {
	return &memRepo{cases: make(map[string]domain.Case)}
}

func (r *memRepo) SaveCase(ctx context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.cases[c.ID]; !ok {
		r.order = append(r.order, c.ID)
	}
	r.cases[c.ID] = c.Clone()
	return nil
}

func (r *memRepo) DeleteCase(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cases[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.cases, id)
	return nil
}

func (r *memRepo) ListCases(ctx context.Context) ([]*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Case
	for _, id := range r.order {
		if c, ok := r.cases[id]; ok {
			c := c.Clone()
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }
func (r *memRepo) Close() error                   { return nil }

// recordingBus captures published topics synchronously.
type recordingBus struct {
	mu        sync.Mutex
	published []string
	payloads  [][]byte
	err       error
}

func (b *recordingBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, topic)
	b.payloads = append(b.payloads, payload)
	return b.err
}

func (b *recordingBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return nil, errors.New("not supported")
}

func (b *recordingBus) Ping(ctx context.Context) error { return nil }
func (b *recordingBus) Close() error                   { return nil }

func newTestStore(t *testing.T, repo domain.CaseRepository, bus domain.EventBus) *Store {
	t.Helper()
	classifier, err := rules.NewClassifier(rules.DefaultTable())
	if err != nil {
		t.Fatalf("failed to create classifier: %v", err)
	}
	s := New(classifier, repo, bus)

	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seq := 0
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	s.newID = func() string {
		seq++
		return fmt.Sprintf("case-%03d", seq)
	}
	return s
}

func input(name string, age int, content string) domain.CaseInput {
	return domain.CaseInput{
		Child:   domain.ChildIdentity{Name: name, Age: age, Gender: "nam"},
		Content: content,
	}
}

func TestCreateCase(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	t.Run("SeriousCase", func(t *testing.T) {
		c, err := s.Create(ctx, input("An", 7, "Trẻ bị bầm tím 60%"), domain.RoleUser)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if c.Prediction != domain.SeveritySerious {
			t.Errorf("expected serious, got %s", c.Prediction)
		}
		if !c.Notified {
			t.Error("serious case must be notified")
		}
		if c.CreatedBy != domain.RoleUser || c.LastEditedBy != "" {
			t.Errorf("unexpected authorship %s/%s", c.CreatedBy, c.LastEditedBy)
		}
		if c.DocumentType != domain.DocumentCaseNote {
			t.Errorf("expected default document type, got %s", c.DocumentType)
		}
		if c.Extracted != "Phát hiện: bầm tím 60%" {
			t.Errorf("unexpected extracted rationale %q", c.Extracted)
		}
	})

	t.Run("LowCase", func(t *testing.T) {
		c, err := s.Create(ctx, input("Bình", 9, "vết xước nhẹ"), domain.RoleUser)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if c.Prediction != domain.SeverityLow || c.Notified {
			t.Errorf("expected low and not notified, got %s/%v", c.Prediction, c.Notified)
		}
		if diff := cmp.Diff([]string{"xước nhẹ", "xước"}, c.MatchedKeywords); diff != "" {
			t.Errorf("matched keywords mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ValidationErrors", func(t *testing.T) {
		before := s.Snapshot()
		bad := []domain.CaseInput{
			input("", 7, "nội dung"),
			input("An", 0, "nội dung"),
			input("An", -1, "nội dung"),
			input("An", 7, "   "),
		}
		for _, in := range bad {
			if _, err := s.Create(ctx, in, domain.RoleUser); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected ErrValidation for %+v, got %v", in, err)
			}
		}
		if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
			t.Errorf("rejected create mutated the store (-before +after):\n%s", diff)
		}
	})

	t.Run("MostRecentFirst", func(t *testing.T) {
		got := ids(s.ListVisible(domain.RoleAdmin))
		if diff := cmp.Diff([]string{"case-002", "case-001"}, got); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUpdateCase(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, input("An", 7, "vết xước nhẹ"), domain.RoleUser)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	t.Run("AdminEditReclassifies", func(t *testing.T) {
		updated, err := s.Update(ctx, created.ID, input("An", 7, "trẻ bị gãy xương"), domain.RoleAdmin)
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.Prediction != domain.SeveritySerious || !updated.Notified {
			t.Errorf("expected serious+notified, got %s/%v", updated.Prediction, updated.Notified)
		}
		if updated.CreatedBy != domain.RoleUser {
			t.Errorf("CreatedBy must be preserved, got %s", updated.CreatedBy)
		}
		if updated.LastEditedBy != domain.RoleAdmin {
			t.Errorf("expected LastEditedBy admin, got %s", updated.LastEditedBy)
		}
		if !updated.CreatedAt.Equal(created.CreatedAt) || !updated.UpdatedAt.After(created.UpdatedAt) {
			t.Errorf("unexpected timestamps created=%v updated=%v", updated.CreatedAt, updated.UpdatedAt)
		}
	})

	t.Run("EditedCaseHiddenFromUsers", func(t *testing.T) {
		if got := s.ListVisible(domain.RoleUser); len(got) != 0 {
			t.Errorf("expected edited case to be hidden from users, got %v", ids(got))
		}
	})

	t.Run("OrganizationEditHidesFromAdmin", func(t *testing.T) {
		if _, err := s.Update(ctx, created.ID, input("An", 7, "trẻ bị gãy xương"), domain.RoleOrganization); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if got := s.ListVisible(domain.RoleAdmin); len(got) != 0 {
			t.Errorf("expected organization-touched case hidden from admin, got %v", ids(got))
		}
		if got := s.ListVisible(domain.RoleOrganization); len(got) != 1 {
			t.Errorf("expected organization to see serious case, got %v", ids(got))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.Update(ctx, "missing", input("An", 7, "x"), domain.RoleAdmin)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		_, err := s.Update(ctx, created.ID, input("An", 7, ""), domain.RoleAdmin)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestUserCannotModify(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, input("An", 7, "vết xước nhẹ"), domain.RoleUser)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	before := s.Snapshot()

	if _, err := s.Update(ctx, created.ID, input("An", 7, "gãy xương"), domain.RoleUser); !errors.Is(err, domain.ErrPermission) {
		t.Errorf("expected ErrPermission on update, got %v", err)
	}
	if err := s.Delete(ctx, created.ID, domain.RoleUser); !errors.Is(err, domain.ErrPermission) {
		t.Errorf("expected ErrPermission on delete, got %v", err)
	}
	// permission is checked before existence
	if err := s.Delete(ctx, "missing", domain.RoleUser); !errors.Is(err, domain.ErrPermission) {
		t.Errorf("expected ErrPermission for unknown id, got %v", err)
	}

	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Errorf("rejected mutation changed the store (-before +after):\n%s", diff)
	}
}

func TestDeleteCase(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	a, _ := s.Create(ctx, input("An", 7, "vết xước nhẹ"), domain.RoleUser)
	b, _ := s.Create(ctx, input("Bình", 8, "bị bỏ đói"), domain.RoleUser)

	if err := s.Delete(ctx, a.ID, domain.RoleAdmin); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if diff := cmp.Diff([]string{b.ID}, ids(s.Snapshot())); diff != "" {
		t.Errorf("remaining cases mismatch (-want +got):\n%s", diff)
	}
	if err := s.Delete(ctx, a.ID, domain.RoleOrganization); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := s.Get(a.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound from Get, got %v", err)
	}
}

func TestStoreStatsAndDuplicates(t *testing.T) {
	s := newTestStore(t, nil, nil)
	ctx := context.Background()

	s.Create(ctx, input("An", 7, "Trẻ bị bầm tím 60%"), domain.RoleUser)
	s.Create(ctx, input("an", 7, "bị bỏ đói"), domain.RoleUser)
	s.Create(ctx, input("Chi", 5, "vết xước nhẹ"), domain.RoleAdmin)

	want := domain.Stats{Total: 3, Serious: 1, Medium: 1, Low: 1, HasSerious: true}
	if diff := cmp.Diff(want, s.Stats(domain.RoleAdmin)); diff != "" {
		t.Errorf("admin stats mismatch (-want +got):\n%s", diff)
	}
	if got := s.Stats(domain.RoleUser); got.Total != len(s.ListVisible(domain.RoleUser)) {
		t.Errorf("stats and listing diverged: %+v", got)
	}

	dups := s.FindDuplicates(domain.ChildIdentity{Name: "AN", Age: 7, Gender: "nam"}, "")
	if len(dups) != 2 {
		t.Errorf("expected 2 duplicates, got %v", ids(dups))
	}
	dups = s.FindDuplicates(domain.ChildIdentity{Name: "An", Age: 7, Gender: "nam"}, dups[0].ID)
	if len(dups) != 1 {
		t.Errorf("expected 1 duplicate when excluding the edited case, got %v", ids(dups))
	}
}

func TestReturnedCasesAreCopies(t *testing.T) {
	s := newTestStore(t, nil, nil)
	c, _ := s.Create(context.Background(), input("An", 7, "vết xước nhẹ"), domain.RoleUser)

	c.MatchedKeywords[0] = "tampered"
	c.Prediction = domain.SeveritySerious

	stored, _ := s.Get(c.ID)
	if stored.MatchedKeywords[0] != "xước nhẹ" || stored.Prediction != domain.SeverityLow {
		t.Errorf("store was mutated through a returned value: %+v", stored)
	}
}

func TestWriteThrough(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	s := newTestStore(t, repo, nil)

	a, err := s.Create(ctx, input("An", 7, "vết xước nhẹ"), domain.RoleUser)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s.Create(ctx, input("Bình", 8, "bị bỏ đói"), domain.RoleUser)

	t.Run("SaveFailureLeavesStoreUnchanged", func(t *testing.T) {
		repo.saveErr = errors.New("disk full")
		defer func() { repo.saveErr = nil }()

		before := s.Snapshot()
		if _, err := s.Create(ctx, input("Chi", 5, "khóc"), domain.RoleUser); err == nil {
			t.Error("expected create to fail")
		}
		if _, err := s.Update(ctx, a.ID, input("An", 7, "gãy xương"), domain.RoleAdmin); err == nil {
			t.Error("expected update to fail")
		}
		if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
			t.Errorf("failed persistence mutated the store (-before +after):\n%s", diff)
		}
	})

	t.Run("LoadRestoresNewestFirst", func(t *testing.T) {
		reloaded := newTestStore(t, repo, nil)
		if err := reloaded.Load(ctx); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if diff := cmp.Diff(s.Snapshot(), reloaded.Snapshot()); diff != "" {
			t.Errorf("reloaded store mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("DeleteRemovesFromRepository", func(t *testing.T) {
		if err := s.Delete(ctx, a.ID, domain.RoleAdmin); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		stored, _ := repo.ListCases(ctx)
		if len(stored) != 1 {
			t.Errorf("expected 1 stored case, got %d", len(stored))
		}
	})
}

func TestPublishesEvents(t *testing.T) {
	ctx := context.Background()
	bus := &recordingBus{}
	s := newTestStore(t, nil, bus)

	low, _ := s.Create(ctx, input("An", 7, "vết xước nhẹ"), domain.RoleUser)
	s.Create(ctx, input("Bình", 8, "Trẻ bị bầm tím 60%"), domain.RoleUser)
	s.Update(ctx, low.ID, input("An", 7, "bị bỏ đói"), domain.RoleAdmin)
	s.Delete(ctx, low.ID, domain.RoleAdmin)

	want := []string{
		domain.TopicCaseCreated,
		domain.TopicCaseCreated,
		domain.TopicCaseSerious,
		domain.TopicCaseUpdated,
		domain.TopicCaseDeleted,
	}
	if diff := cmp.Diff(want, bus.published); diff != "" {
		t.Errorf("published topics mismatch (-want +got):\n%s", diff)
	}

	var event domain.CaseEvent
	if err := json.Unmarshal(bus.payloads[2], &event); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if event.Prediction != domain.SeveritySerious || !event.Notified || event.Actor != domain.RoleUser {
		t.Errorf("unexpected serious event %+v", event)
	}
}

func TestPublishFailureDoesNotUndoMutation(t *testing.T) {
	bus := &recordingBus{err: errors.New("bus down")}
	s := newTestStore(t, nil, bus)

	if _, err := s.Create(context.Background(), input("An", 7, "gãy xương"), domain.RoleUser); err != nil {
		t.Fatalf("Create must succeed when publishing fails: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 case, got %d", s.Len())
	}
}

func TestConcurrentWriters(t *testing.T) {
	classifier, _ := rules.NewClassifier(rules.DefaultTable())
	s := New(classifier, nil, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Create(ctx, input(fmt.Sprintf("child-%d", i), 6, "vết xước nhẹ"), domain.RoleUser)
			s.Stats(domain.RoleAdmin)
		}(i)
	}
	wg.Wait()

	if s.Len() != 50 {
		t.Errorf("expected 50 cases, got %d", s.Len())
	}
	seen := make(map[string]bool)
	for _, c := range s.Snapshot() {
		if seen[c.ID] {
			t.Fatalf("duplicate case id %s", c.ID)
		}
		seen[c.ID] = true
	}
}
