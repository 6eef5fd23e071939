package casestore

import "github.com/opensource-finance/kestrel/internal/domain"

// VisibleCases filters cases down to what role may see.
// Listings and statistics must both go through this function.
//
//   - organization: serious cases only
//   - user: cases submitted by a user and never edited
//   - admin and any other privileged role: everything not created or
//     last edited by an organization
func VisibleCases(all []domain.Case, role domain.Role) []domain.Case {
	visible := make([]domain.Case, 0, len(all))
	for _, c := range all {
		if canSee(c, role) {
			visible = append(visible, c)
		}
	}
	return visible
}

func canSee(c domain.Case, role domain.Role) bool {
	switch role {
	case domain.RoleOrganization:
		return c.Prediction == domain.SeveritySerious
	case domain.RoleUser:
		return c.CreatedBy == domain.RoleUser && c.LastEditedBy == ""
	default:
		return c.CreatedBy != domain.RoleOrganization && c.LastEditedBy != domain.RoleOrganization
	}
}

// FindDuplicates returns cases about the same child as candidate, skipping
// excludingID (the case being edited, if any). The result is advisory.
func FindDuplicates(all []domain.Case, candidate domain.ChildIdentity, excludingID string) []domain.Case {
	var dups []domain.Case
	for _, c := range all {
		if excludingID != "" && c.ID == excludingID {
			continue
		}
		if c.Child.Matches(candidate) {
			dups = append(dups, c)
		}
	}
	return dups
}

// ComputeStats aggregates an already filtered set of cases.
func ComputeStats(visible []domain.Case) domain.Stats {
	var s domain.Stats
	for _, c := range visible {
		s.Total++
		switch c.Prediction {
		case domain.SeveritySerious:
			s.Serious++
			if c.Notified {
				s.HasSerious = true
			}
		case domain.SeverityMedium:
			s.Medium++
		case domain.SeverityLow:
			s.Low++
		}
	}
	return s
}
