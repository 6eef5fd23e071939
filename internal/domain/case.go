package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DocumentType identifies where an observation came from.
type DocumentType string

const (
	DocumentCaseNote     DocumentType = "case-note"
	DocumentSchoolReport DocumentType = "school-report"
	DocumentMedical      DocumentType = "medical-document"
)

// ParseDocumentType validates a document type. Empty defaults to a case note.
func ParseDocumentType(raw string) (DocumentType, error) {
	switch d := DocumentType(raw); d {
	case "":
		return DocumentCaseNote, nil
	case DocumentCaseNote, DocumentSchoolReport, DocumentMedical:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown document type %q", ErrValidation, raw)
	}
}

// ChildIdentity is the tuple used to correlate cases about the same child.
type ChildIdentity struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// Matches reports whether two identities refer to the same child:
// case-insensitive name, exact age and gender.
func (c ChildIdentity) Matches(other ChildIdentity) bool {
	return strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(other.Name)) &&
		c.Age == other.Age &&
		c.Gender == other.Gender
}

// CaseInput is what a submitter provides when creating or editing a case.
type CaseInput struct {
	DocumentType DocumentType  `json:"documentType"`
	Child        ChildIdentity `json:"child"`
	Content      string        `json:"content"`
}

// Validate checks required fields.
func (in CaseInput) Validate() error {
	if strings.TrimSpace(in.Child.Name) == "" {
		return fmt.Errorf("%w: child name is required", ErrValidation)
	}
	if in.Child.Age <= 0 {
		return fmt.Errorf("%w: child age must be a positive integer", ErrValidation)
	}
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrValidation)
	}
	if _, err := ParseDocumentType(string(in.DocumentType)); err != nil {
		return err
	}
	return nil
}

// Case is one submitted observation plus its derived classification.
type Case struct {
	ID              string        `json:"id"`
	DocumentType    DocumentType  `json:"documentType"`
	Child           ChildIdentity `json:"child"`
	Content         string        `json:"content"`
	Extracted       string        `json:"extracted"`
	Prediction      Severity      `json:"prediction"`
	Notified        bool          `json:"notified"`
	MatchedKeywords []string      `json:"matchedKeywords"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	CreatedBy       Role          `json:"createdBy"`
	LastEditedBy    Role          `json:"lastEditedBy,omitempty"`
}

// Clone returns a deep copy.
func (c Case) Clone() Case {
	c.MatchedKeywords = slices.Clone(c.MatchedKeywords)
	return c
}

// Stats summarizes a visible set of cases.
type Stats struct {
	Total      int  `json:"total"`
	Serious    int  `json:"serious"`
	Medium     int  `json:"medium"`
	Low        int  `json:"low"`
	HasSerious bool `json:"hasSerious"`
}

// CaseEvent is published on the event bus after a case mutation.
type CaseEvent struct {
	CaseID     string    `json:"caseId"`
	Prediction Severity  `json:"prediction"`
	Notified   bool      `json:"notified"`
	Actor      Role      `json:"actor"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
