package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/iliyamo/event-waitlist/internal/model"
)

// Task type names for the sweep jobs.
const (
	TypeSweep   = "waitlist:sweep"
	TypePromote = "waitlist:promote"
)

// promotePayload selects the pool an on-demand promotion targets.
type promotePayload struct {
	EventID    string `json:"event_id"`
	TicketType string `json:"ticket_type,omitempty"`
}

// enqueuePromote schedules an immediate promotion pass for the pool.
// Called after a cancel or abandoned purchase frees capacity, so the
// next waiting requester is promoted without waiting for the periodic
// sweep.  Failures are logged only: the periodic sweep is the safety
// net that makes enqueueing best-effort.
func (s *Waitlist) enqueuePromote(ctx context.Context, pool model.Pool) {
	if s.tasks == nil {
		return
	}
	payload, err := json.Marshal(promotePayload{EventID: pool.EventID, TicketType: pool.TicketType})
	if err != nil {
		log.Printf("waitlist: marshal promote payload: %v", err)
		return
	}
	task := asynq.NewTask(TypePromote, payload)
	if _, err := s.tasks.EnqueueContext(ctx, task, asynq.Queue(s.queueName)); err != nil {
		log.Printf("waitlist: enqueue promote for %v: %v", pool, err)
	}
}

// HandleSweepTask runs one full sweeper pass.  Idempotent: overlapping
// or repeated runs converge on the same state, so the scheduler can
// fire it on a timer without coordination.
func (s *Waitlist) HandleSweepTask(ctx context.Context, t *asynq.Task) error {
	res, err := s.Sweep(ctx, time.Now())
	if len(res.Expired) > 0 || len(res.Promoted) > 0 {
		log.Printf("sweeper: expired %d offers, promoted %d entries", len(res.Expired), len(res.Promoted))
	}
	return err
}

// HandlePromoteTask promotes waiting entries in one pool.
func (s *Waitlist) HandlePromoteTask(ctx context.Context, t *asynq.Task) error {
	var payload promotePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("promote payload: %w", err)
	}
	_, err := s.PromotePool(ctx, model.Pool{EventID: payload.EventID, TicketType: payload.TicketType})
	return err
}

// RunSweeper starts the asynq server and scheduler that drive the
// sweep: the scheduler enqueues a waitlist:sweep task every interval,
// the server executes sweep and promote tasks.  Blocks until the
// server stops, so callers run it in a goroutine.
func RunSweeper(redisOpt asynq.RedisClientOpt, svc *Waitlist, interval time.Duration, queueName string) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if queueName == "" {
		queueName = "default"
	}

	scheduler := asynq.NewScheduler(redisOpt, nil)
	cronspec := fmt.Sprintf("@every %s", interval)
	if _, err := scheduler.Register(cronspec, asynq.NewTask(TypeSweep, nil), asynq.Queue(queueName)); err != nil {
		return fmt.Errorf("register sweep schedule: %w", err)
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start sweep scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2, // sweeps serialize on the store anyway
		Queues:      map[string]int{queueName: 1},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSweep, svc.HandleSweepTask)
	mux.HandleFunc(TypePromote, svc.HandlePromoteTask)
	return srv.Run(mux)
}
