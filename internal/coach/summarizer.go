package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lymhealth/coaching-engine/pkg/logging"
)

// summaryJob is the queue payload asking for one conversation to be
// re-summarized.
type summaryJob struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

const (
	defaultSummarizerWorkers = 1
	defaultReceiveWait       = 2 // seconds
	defaultReceiveMax        = 5 // messages
	maxReceiveWaitSeconds    = 20
	maxReceiveBatchMessages  = 10
)

type summarizerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// SummarizerOption configures the background summarizer.
type SummarizerOption func(*summarizerConfig)

// WithSummarizerWorkers overrides the number of queue polling goroutines.
func WithSummarizerWorkers(workers int) SummarizerOption {
	return func(cfg *summarizerConfig) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithSummarizerReceiveWait sets the long-poll wait time for Receive calls.
func WithSummarizerReceiveWait(seconds int) SummarizerOption {
	return func(cfg *summarizerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxReceiveWaitSeconds {
			seconds = maxReceiveWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithSummarizerBatchSize overrides how many jobs each poll should return.
func WithSummarizerBatchSize(size int) SummarizerOption {
	return func(cfg *summarizerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchMessages {
			size = maxReceiveBatchMessages
		}
		cfg.receiveBatchSize = size
	}
}

// Summarizer rebuilds conversation memories off the request path. The engine
// enqueues a job every few turns; workers load the stored turns, build the
// summary and persist it. Jobs are fire-and-forget, a lost summary only means
// slightly staler memory.
type Summarizer struct {
	turns  TurnStore
	memory MemoryStore
	queue  queueClient
	logger *logging.Logger

	cfg summarizerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSummarizer wires a queue-backed summarizer and starts its workers.
func NewSummarizer(turns TurnStore, memory MemoryStore, queue queueClient, logger *logging.Logger, opts ...SummarizerOption) *Summarizer {
	if turns == nil {
		panic("coach: turn store cannot be nil")
	}
	if memory == nil {
		panic("coach: memory store cannot be nil")
	}
	if queue == nil {
		panic("coach: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := summarizerConfig{
		workers:          defaultSummarizerWorkers,
		receiveWaitSecs:  defaultReceiveWait,
		receiveBatchSize: defaultReceiveMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Summarizer{
		turns:  turns,
		memory: memory,
		queue:  queue,
		logger: logger,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.workers; i++ {
		s.wg.Add(1)
		go s.runWorker(i + 1)
	}

	return s
}

// Enqueue asks for a conversation to be re-summarized.
func (s *Summarizer) Enqueue(ctx context.Context, conversationID, userID string) error {
	body, err := json.Marshal(summaryJob{ConversationID: conversationID, UserID: userID})
	if err != nil {
		return fmt.Errorf("coach: failed to encode summary job: %w", err)
	}
	if err := s.queue.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("coach: failed to enqueue summary job: %w", err)
	}
	return nil
}

// Shutdown stops worker goroutines.
func (s *Summarizer) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Summarizer) runWorker(workerID int) {
	defer s.wg.Done()
	s.logger.Debug("summarizer worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("summarizer worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := s.queue.Receive(s.ctx, s.cfg.receiveBatchSize, s.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error("failed to receive summary jobs", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			s.handleQueueMessage(msg)
		}
	}
}

func (s *Summarizer) handleQueueMessage(msg queueMessage) {
	deleteCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer func() {
		if err := s.queue.Delete(deleteCtx, msg.ReceiptHandle); err != nil {
			s.logger.Error("failed to delete summary job", "error", err)
		}
	}()

	var job summaryJob
	if err := json.Unmarshal([]byte(msg.Body), &job); err != nil {
		s.logger.Error("failed to decode summary job", "error", err)
		return
	}
	if job.ConversationID == "" {
		return
	}

	if err := s.process(s.ctx, job); err != nil {
		s.logger.Error("summary job failed",
			"error", err,
			"conversation_id", job.ConversationID,
		)
	}
}

func (s *Summarizer) process(ctx context.Context, job summaryJob) error {
	turns, err := s.turns.Load(ctx, job.ConversationID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	memory := Summarize(job.ConversationID, job.UserID, turns)
	if err := s.memory.Save(ctx, memory); err != nil {
		return err
	}

	s.logger.Debug("conversation summarized",
		"conversation_id", job.ConversationID,
		"turns", memory.Stats.TurnCount,
	)
	return nil
}
