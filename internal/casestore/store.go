// Package casestore owns submitted cases and projects them per role.
package casestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/logging"
)

// Classifier turns observation text into a severity.
type Classifier interface {
	Classify(text string) domain.DetectionResult
}

// Store is the single owner of case records.
// Mutations are serialized; reads work on copies.
type Store struct {
	mu    sync.RWMutex
	cases []domain.Case // newest first

	classifier Classifier
	repo       domain.CaseRepository
	bus        domain.EventBus
	log        *slog.Logger

	now   func() time.Time
	newID func() string
}

// New creates a case store. repo and bus may be nil.
func New(classifier Classifier, repo domain.CaseRepository, bus domain.EventBus) *Store {
	return &Store{
		classifier: classifier,
		repo:       repo,
		bus:        bus,
		log:        logging.New("casestore"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Load replaces the in-memory cases with the repository contents.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	stored, err := s.repo.ListCases(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cases: %w", err)
	}

	cases := make([]domain.Case, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		cases = append(cases, stored[i].Clone())
	}

	s.mu.Lock()
	s.cases = cases
	s.mu.Unlock()

	s.log.Info("cases loaded", "count", len(cases))
	return nil
}

// Classify runs the classifier without storing anything.
func (s *Store) Classify(text string) domain.DetectionResult {
	return s.classifier.Classify(text)
}

// Create classifies and stores a new case. Any role may create.
func (s *Store) Create(ctx context.Context, in domain.CaseInput, role domain.Role) (domain.Case, error) {
	if err := in.Validate(); err != nil {
		return domain.Case{}, err
	}

	now := s.now()
	c := domain.Case{
		ID:        s.newID(),
		Child:     normalizeChild(in.Child),
		Content:   in.Content,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: role,
	}
	c.DocumentType, _ = domain.ParseDocumentType(string(in.DocumentType))
	s.applyDetection(&c)

	s.mu.Lock()
	if err := s.persist(ctx, &c); err != nil {
		s.mu.Unlock()
		return domain.Case{}, err
	}
	s.cases = slices.Insert(s.cases, 0, c)
	s.mu.Unlock()

	s.log.Info("case created",
		"case_id", c.ID,
		"prediction", c.Prediction,
		"role", role,
	)
	s.publish(ctx, domain.TopicCaseCreated, c, role)
	return c.Clone(), nil
}

// Update re-classifies an existing case with new input.
// Only admin and organization may edit; CreatedBy is preserved.
func (s *Store) Update(ctx context.Context, id string, in domain.CaseInput, role domain.Role) (domain.Case, error) {
	if !role.CanModify() {
		return domain.Case{}, fmt.Errorf("%w: role %s cannot edit cases", domain.ErrPermission, role)
	}
	if err := in.Validate(); err != nil {
		return domain.Case{}, err
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return domain.Case{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	c := s.cases[idx].Clone()
	c.Child = normalizeChild(in.Child)
	c.Content = in.Content
	c.DocumentType, _ = domain.ParseDocumentType(string(in.DocumentType))
	c.LastEditedBy = role
	c.UpdatedAt = s.now()
	s.applyDetection(&c)

	if err := s.persist(ctx, &c); err != nil {
		s.mu.Unlock()
		return domain.Case{}, err
	}
	s.cases[idx] = c
	s.mu.Unlock()

	s.log.Info("case updated",
		"case_id", c.ID,
		"prediction", c.Prediction,
		"role", role,
	)
	s.publish(ctx, domain.TopicCaseUpdated, c, role)
	return c.Clone(), nil
}

// Delete removes a case. Only admin and organization may delete.
func (s *Store) Delete(ctx context.Context, id string, role domain.Role) error {
	if !role.CanModify() {
		return fmt.Errorf("%w: role %s cannot delete cases", domain.ErrPermission, role)
	}

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	if s.repo != nil {
		if err := s.repo.DeleteCase(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.mu.Unlock()
			return fmt.Errorf("failed to delete case: %w", err)
		}
	}
	c := s.cases[idx]
	s.cases = slices.Delete(s.cases, idx, idx+1)
	s.mu.Unlock()

	s.log.Info("case deleted", "case_id", id, "role", role)
	s.publish(ctx, domain.TopicCaseDeleted, c, role)
	return nil
}

// Get returns a single case by ID regardless of role.
func (s *Store) Get(id string) (domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(id)
	if idx < 0 {
		return domain.Case{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return s.cases[idx].Clone(), nil
}

// ListVisible returns the cases role may see, most recent first.
func (s *Store) ListVisible(role domain.Role) []domain.Case {
	return VisibleCases(s.Snapshot(), role)
}

// Stats aggregates the cases role may see.
func (s *Store) Stats(role domain.Role) domain.Stats {
	return ComputeStats(s.ListVisible(role))
}

// FindDuplicates returns stored cases about the same child.
func (s *Store) FindDuplicates(candidate domain.ChildIdentity, excludingID string) []domain.Case {
	return FindDuplicates(s.Snapshot(), candidate, excludingID)
}

// Snapshot returns a copy of every case, most recent first.
func (s *Store) Snapshot() []domain.Case {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Case, len(s.cases))
	for i, c := range s.cases {
		out[i] = c.Clone()
	}
	return out
}

// Len returns the number of stored cases.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}

func (s *Store) applyDetection(c *domain.Case) {
	result := s.classifier.Classify(c.Content)
	c.Prediction = result.Level
	c.Extracted = result.Reasoning
	c.MatchedKeywords = slices.Clone(result.MatchedKeywords)
	c.Notified = result.Level == domain.SeveritySerious
}

// persist writes through to the repository. Caller holds s.mu.
func (s *Store) persist(ctx context.Context, c *domain.Case) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.SaveCase(ctx, c); err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}
	return nil
}

// indexOf finds a case by ID. Caller holds s.mu.
func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.cases, func(c domain.Case) bool { return c.ID == id })
}

func (s *Store) publish(ctx context.Context, topic string, c domain.Case, actor domain.Role) {
	if s.bus == nil {
		return
	}

	event := domain.CaseEvent{
		CaseID:     c.ID,
		Prediction: c.Prediction,
		Notified:   c.Notified,
		Actor:      actor,
		Reasoning:  c.Extracted,
		Timestamp:  s.now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error("failed to encode case event", "case_id", c.ID, "error", err)
		return
	}

	topics := []string{topic}
	if topic != domain.TopicCaseDeleted && c.Notified {
		topics = append(topics, domain.TopicCaseSerious)
	}
	for _, t := range topics {
		if err := s.bus.Publish(ctx, t, payload); err != nil {
			s.log.Warn("failed to publish case event",
				"topic", t,
				"case_id", c.ID,
				"error", err,
			)
		}
	}
}

func normalizeChild(c domain.ChildIdentity) domain.ChildIdentity {
	c.Name = strings.TrimSpace(c.Name)
	c.Gender = strings.TrimSpace(c.Gender)
	return c
}
