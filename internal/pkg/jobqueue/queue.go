package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/llmready/llmready/internal/pkg/cache"
)

const (
	// Redis key prefixes
	JobKeyPrefix   = "job:"
	QueueKeyPrefix = "queue:"

	// Queue names. Generation jobs are interactive; maintenance jobs are
	// low priority and must not starve them, so each name gets its own
	// pending/processing lists and worker pool.
	QueueGeneration  = "generation"
	QueueMaintenance = "maintenance"

	// Job settings
	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour // Jobs expire after 24 hours
)

// Handler processes one job body. Returning an error triggers the queue's
// bounded retry; at-least-once delivery means handlers must tolerate
// redelivery.
type Handler func(ctx context.Context, job *Job) error

// Queue manages background jobs for one named queue using Redis lists.
// Delivery is at-least-once: a dequeue atomically moves the job id to the
// processing list, and the stuck sweeper requeues ids abandoned by crashed
// workers.
type Queue struct {
	name       string
	client     *redis.Client
	workers    int
	workerPool chan struct{}
	handlers   map[JobType]Handler
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// NewQueue creates a job queue with the given name and worker count.
func NewQueue(name string, workers int) *Queue {
	if workers <= 0 {
		workers = 3 // Default number of workers
	}

	return &Queue{
		name:       name,
		client:     cache.GetClient(),
		workers:    workers,
		workerPool: make(chan struct{}, workers),
		handlers:   make(map[JobType]Handler),
		stopCh:     make(chan struct{}),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (q *Queue) Register(jobType JobType, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *Queue) pendingKey() string {
	return QueueKeyPrefix + q.name
}

func (q *Queue) processingKey() string {
	return QueueKeyPrefix + q.name + ":processing"
}

func (q *Queue) statsKey() string {
	return QueueKeyPrefix + q.name + ":stats"
}

// Start starts the job queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.stopCh = make(chan struct{})
	log.Infof("[JobQueue:%s] Starting %d workers", q.name, q.workers)

	for i := 0; i < q.workers; i++ {
		q.workerPool <- struct{}{}
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Recover jobs stuck in processing after a worker crash
	q.wg.Add(1)
	go q.stuckSweeper(10*time.Minute, 1*time.Minute)
}

// Stop stops the job queue workers and blocks until they have drained.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	log.Infof("[JobQueue:%s] Stopping workers...", q.name)
	close(q.stopCh)
	q.running = false
	// Release the mutex before waiting: a worker mid-job still needs it for
	// the handler lookup, and holding it here would deadlock the drain.
	q.mu.Unlock()

	q.wg.Wait()
	log.Infof("[JobQueue:%s] All workers stopped", q.name)
}

// stuckSweeper periodically scans the processing list and requeues jobs stuck for longer than maxAge
func (q *Queue) stuckSweeper(maxAge time.Duration, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepStuckOnce(ctx, maxAge)
		}
	}
}

func (q *Queue) sweepStuckOnce(ctx context.Context, maxAge time.Duration) {
	ids, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue:%s] Sweeper LRange error: %v", q.name, err)
		return
	}
	now := time.Now()
	for _, id := range ids {
		data, err := q.client.Get(ctx, JobKeyPrefix+id).Result()
		if err != nil {
			// Job data missing; remove from processing list
			if err != redis.Nil {
				log.Errorf("[JobQueue:%s] Sweeper Get error for %s: %v", q.name, id, err)
			}
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			continue
		}
		var job Job
		if uerr := json.Unmarshal([]byte(data), &job); uerr != nil {
			log.Errorf("[JobQueue:%s] Sweeper unmarshal error for %s: %v", q.name, id, uerr)
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			continue
		}
		if job.Status != JobStatusProcessing {
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			continue
		}
		started := job.ProcessedAt
		if started == nil || started.IsZero() {
			tmp := job.UpdatedAt
			if tmp.IsZero() {
				tmp = job.CreatedAt
			}
			started = &tmp
		}
		if now.Sub(*started) > maxAge {
			log.Warnf("[JobQueue:%s] Recovering stuck job %s (type=%s), age=%s", q.name, job.ID, job.Type, now.Sub(*started))
			job.Status = JobStatusPending
			job.ErrorMsg = "recovered by sweeper"
			job.UpdatedAt = now
			q.updateJob(ctx, &job)
			_ = q.client.LRem(ctx, q.processingKey(), 1, id).Err()
			_ = q.client.RPush(ctx, q.pendingKey(), id).Err()
		}
	}
}

// worker processes jobs from the queue
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		default:
			// Acquire worker slot
			<-q.workerPool

			job, err := q.dequeueJob(ctx)
			if err != nil {
				if err != redis.Nil {
					log.Errorf("[JobQueue:%s] Worker %d: Error dequeuing job: %v", q.name, id, err)
				}
				q.workerPool <- struct{}{}
				time.Sleep(time.Second)
				continue
			}

			if job != nil {
				log.Infof("[JobQueue:%s] Worker %d processing job %s (Type: %s)", q.name, id, job.ID, job.Type)
				q.processJob(ctx, job)
			}

			q.workerPool <- struct{}{}
		}
	}
}

// EnqueueJob adds a new job to the queue
func (q *Queue) EnqueueJob(jobType JobType, payload map[string]interface{}) (*Job, error) {
	ctx := context.Background()

	job := &Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	// Use a pipeline for atomic operations
	pipe := q.client.Pipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	pipe.LPush(ctx, q.pendingKey(), job.ID)
	pipe.HIncrBy(ctx, q.statsKey(), string(JobStatusPending), 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue:%s] Enqueued job %s (Type: %s)", q.name, job.ID, job.Type)
	return job, nil
}

// dequeueJob gets the next job from the queue
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	// Move job from pending queue to processing queue atomically
	jobID, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), time.Second).Result()
	if err != nil {
		return nil, err
	}

	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		// Job data not found, remove from processing queue
		q.client.LRem(ctx, q.processingKey(), 1, jobID)
		return nil, fmt.Errorf("job data not found for ID %s", jobID)
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		q.client.LRem(ctx, q.processingKey(), 1, jobID)
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	return &job, nil
}

// processJob processes a single job
func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	q.mu.Lock()
	handler, ok := q.handlers[job.Type]
	q.mu.Unlock()

	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for job type: %s", job.Type)
	} else {
		err = handler(ctx, job)
	}

	if err != nil {
		log.Errorf("[JobQueue:%s] Job %s failed: %v", q.name, job.ID, err)
		job.MarkAsFailed(err.Error())

		if job.IsRetryable() {
			log.Infof("[JobQueue:%s] Retrying job %s (Attempt %d/%d)", q.name, job.ID, job.RetryCount, job.MaxRetries)
			job.MarkAsRetrying()
			q.updateJob(ctx, job)

			// Re-enqueue for retry after a delay
			time.AfterFunc(time.Minute*time.Duration(job.RetryCount), func() {
				q.client.LPush(ctx, q.pendingKey(), job.ID)
			})
		} else {
			log.Errorf("[JobQueue:%s] Job %s permanently failed after %d retries", q.name, job.ID, job.RetryCount)
			q.updateJobStats(ctx, JobStatusFailed, 1)
		}
	} else {
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		// Remove completed job from Redis entirely
		q.removeCompletedJob(ctx, job.ID)
	}

	if job.Status != JobStatusCompleted {
		q.updateJob(ctx, job)
	}
	q.removeFromProcessing(ctx, job.ID)
}

// updateJob updates job data in Redis
func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue:%s] Failed to marshal job %s: %v", q.name, job.ID, err)
		return
	}

	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue:%s] Failed to update job %s: %v", q.name, job.ID, err)
	}
}

// removeFromProcessing removes a job from the processing queue
func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, q.processingKey(), 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue:%s] Failed to remove job %s from processing queue: %v", q.name, jobID, err)
	}
}

// removeCompletedJob completely removes a completed job from Redis
func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[JobQueue:%s] Failed to remove completed job %s from Redis: %v", q.name, jobID, err)
	}
}

// updateJobStats updates job statistics
func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, q.statsKey(), string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue:%s] Failed to update job stats: %v", q.name, err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// GetJobStats returns statistics about job statuses
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, q.statsKey()).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64)
	for status, count := range stats {
		if countInt, err := json.Number(count).Int64(); err == nil {
			result[JobStatus(status)] = countInt
		}
	}

	return result, nil
}

// GetQueueSize returns the number of pending jobs
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.pendingKey()).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.processingKey()).Result()
}
