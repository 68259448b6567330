package worker

import (
	"context"
	"fmt"
	"strings"

	"cashdesk/internal/model"
)

// DiscrepancyNotifier queues an email alert for every closure that ended
// in DISCREPANCY.
type DiscrepancyNotifier struct {
	dispatcher *Dispatcher
	to         []string
}

func NewDiscrepancyNotifier(d *Dispatcher, recipients string) *DiscrepancyNotifier {
	var to []string
	for _, r := range strings.Split(recipients, ",") {
		if r = strings.TrimSpace(r); r != "" {
			to = append(to, r)
		}
	}
	return &DiscrepancyNotifier{dispatcher: d, to: to}
}

func (n *DiscrepancyNotifier) DiscrepancyDetected(ctx context.Context, s *model.CashSession) error {
	if len(n.to) == 0 {
		return nil
	}
	diff := "?"
	if s.Difference != nil {
		diff = s.Difference.StringFixed(2)
	}
	counted := "?"
	if s.RealBalance != nil {
		counted = s.RealBalance.StringFixed(2)
	}
	body := fmt.Sprintf(
		"Store %s closed session %s with a discrepancy.\n\nTheoretical: %s\nCounted: %s\nDifference: %s\nClosed by: %s\n\nNotes: %s\n",
		s.StoreID, s.ID, s.TheoreticalBalance.StringFixed(2), counted, diff, deref(s.ClosedBy), s.ClosureNotes)
	return n.dispatcher.EnqueueEmail(ctx, EmailJobPayload{
		To:      n.to,
		Subject: fmt.Sprintf("[cashdesk] Discrepancy at store %s: %s", s.StoreID, diff),
		Body:    body,
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
