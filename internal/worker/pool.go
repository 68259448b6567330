package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueInvoice = "jobs:invoice"
	QueueEmail   = "jobs:email"

	JobTypeInvoice = "invoice"
	JobTypeEmail   = "email"
)

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts,omitempty"`
}

// Handler processes one job payload. A returned error sends the job to the DLQ.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

// InvoiceJobPayload is the job envelope sent to QueueInvoice.
type InvoiceJobPayload struct {
	MovementID string `json:"movement_id"`
}

// EnqueueInvoice pushes an invoice job to Redis.
func (d *Dispatcher) EnqueueInvoice(ctx context.Context, movementID string) error {
	return d.enqueue(ctx, QueueInvoice, JobTypeInvoice, InvoiceJobPayload{MovementID: movementID})
}

// EnqueueEmail pushes an email job to Redis.
func (d *Dispatcher) EnqueueEmail(ctx context.Context, payload EmailJobPayload) error {
	return d.enqueue(ctx, QueueEmail, JobTypeEmail, payload)
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return d.push(ctx, queue, Job{Type: jobType, Payload: data})
}

func (d *Dispatcher) push(ctx context.Context, queue string, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return d.rdb.LPush(ctx, queue, encoded).Err()
}

// Pool consumes the job queues with a fixed number of goroutines.
type Pool struct {
	rdb      *redis.Client
	handlers map[string]Handler
	queues   []string
	timeout  time.Duration
}

func NewPool(rdb *redis.Client) *Pool {
	return &Pool{rdb: rdb, handlers: map[string]Handler{}, timeout: 5 * time.Second}
}

// Handle registers h for the jobs of a queue.
func (p *Pool) Handle(queue string, h Handler) {
	if _, ok := p.handlers[queue]; !ok {
		p.queues = append(p.queues, queue)
	}
	p.handlers[queue] = h
}

// Run launches numWorkers goroutines and blocks until ctx is done and every
// worker has returned. Each goroutine blocks on BRPOP: zero CPU when idle.
func (p *Pool) Run(ctx context.Context, numWorkers int) {
	if len(p.queues) == 0 {
		return
	}
	done := make(chan struct{}, numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(id int) {
			p.runWorker(ctx, id)
			done <- struct{}{}
		}(i)
	}
	log.Info().Int("workers", numWorkers).Strs("queues", p.queues).Msg("worker pool started")
	for i := 0; i < numWorkers; i++ {
		<-done
	}
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
			// Blocking pop: waits up to the timeout then loops to check ctx
			result, err := p.rdb.BRPop(ctx, p.timeout, p.queues...).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					log.Warn().Err(err).Int("worker", id).Msg("worker: brpop failed")
					time.Sleep(time.Second)
				}
				continue
			}
			if len(result) < 2 {
				continue
			}
			p.process(ctx, result[0], result[1])
		}
	}
}

// process decodes one raw job and hands it to the queue's handler.
func (p *Pool) process(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		SendToDLQ(ctx, p.rdb, queue, "unknown", json.RawMessage(raw), "invalid envelope: "+err.Error(), 0)
		return
	}
	h, ok := p.handlers[queue]
	if !ok {
		log.Error().Str("queue", queue).Msg("no handler for queue")
		return
	}
	log.Debug().Str("type", job.Type).Str("queue", queue).Msg("processing job")
	if err := h(ctx, job.Payload); err != nil {
		SendToDLQ(ctx, p.rdb, queue, job.Type, job.Payload, err.Error(), job.Attempts+1)
	}
}

// Drain processes every job currently queued without blocking. Used by the
// CLI and by tests.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	n := 0
	for _, q := range p.queues {
		for {
			raw, err := p.rdb.RPop(ctx, q).Result()
			if errors.Is(err, redis.Nil) {
				break
			}
			if err != nil {
				return n, err
			}
			p.process(ctx, q, raw)
			n++
		}
	}
	return n, nil
}
