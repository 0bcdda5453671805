package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// Review applies a review transition to the alert and records it in the
// alert's history.
//
// OPEN, UNDER_REVIEW and ESCALATED alerts accept transitions; RESOLVED and
// FALSE_POSITIVE are final. Escalation raises severity one step.
func Review(alert *domain.Alert, to domain.AlertStatus, reviewer, notes string, at time.Time) error {
	reviewer = strings.TrimSpace(reviewer)
	notes = strings.TrimSpace(notes)
	if reviewer == "" {
		return fmt.Errorf("%w: reviewer is required", domain.ErrValidation)
	}
	if notes == "" {
		return fmt.Errorf("%w: review notes are required", domain.ErrValidation)
	}

	from := alert.Status
	if from.IsTerminal() {
		return fmt.Errorf("%w: alert %s is %s", domain.ErrInvalidTransition, alert.ID, from)
	}

	switch to {
	case domain.AlertUnderReview:
		if from == domain.AlertUnderReview {
			return fmt.Errorf("%w: alert %s is already under review", domain.ErrInvalidTransition, alert.ID)
		}
		alert.ReviewNotes = notes
	case domain.AlertResolved:
		alert.ReviewNotes = notes
		alert.ResolutionNotes = notes
	case domain.AlertFalsePositive:
		alert.ReviewNotes = notes
		alert.ResolutionNotes = "False Positive: " + notes
	case domain.AlertEscalated:
		alert.Severity = alert.Severity.Escalated()
		alert.ReviewNotes = "ESCALATED: " + notes
	default:
		return fmt.Errorf("%w: cannot move alert %s to %q", domain.ErrInvalidTransition, alert.ID, to)
	}

	at = at.UTC()
	alert.Status = to
	alert.ReviewedBy = reviewer
	alert.ReviewedAt = &at
	alert.UpdatedAt = at
	alert.History = append(alert.History, domain.AlertReview{
		From:     from,
		To:       to,
		Reviewer: reviewer,
		Notes:    notes,
		At:       at,
	})

	return nil
}
