package worker

// email_worker.go
// Processes email jobs from QueueEmail: operational alerts such as
// cash discrepancies at closure.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// EmailJobPayload is the job envelope sent to QueueEmail.
type EmailJobPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Sender is implemented by infra.Mailer.
type Sender interface {
	Send(to []string, subject, body string) error
}

type EmailWorker struct {
	mailer Sender
}

// NewEmailWorker creates an EmailWorker with the provided SMTP mailer.
func NewEmailWorker(mailer Sender) *EmailWorker {
	return &EmailWorker{mailer: mailer}
}

func (w *EmailWorker) Process(_ context.Context, raw json.RawMessage) error {
	var payload EmailJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("email_worker: invalid payload: %w", err)
	}
	if len(payload.To) == 0 {
		log.Warn().Msg("email_worker: no recipients: skipping")
		return nil
	}
	if w.mailer == nil {
		return errors.New("email_worker: mailer not configured")
	}
	if err := w.mailer.Send(payload.To, payload.Subject, payload.Body); err != nil {
		return err
	}
	log.Info().Strs("to", payload.To).Str("subject", payload.Subject).Msg("email_worker: sent")
	return nil
}
