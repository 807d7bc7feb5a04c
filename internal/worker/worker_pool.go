package worker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Task func()

// WorkerPool выполняет задачи фиксированным числом горутин и переживает панику в задаче.
type WorkerPool struct {
	tasks         chan Task
	wg            sync.WaitGroup
	busyWorkers   int
	maxWorkers    int
	submitTimeout time.Duration
	logger        zerolog.Logger

	// mu защищает closed от гонки Submit и Stop, statsMu - счетчик занятых воркеров.
	mu        sync.RWMutex
	closed    bool
	statsMu   sync.Mutex
	startOnce sync.Once
	stopOnce  sync.Once
}

type PoolStats struct {
	BusyWorkers   int `json:"busy_workers"`
	MaxWorkers    int `json:"max_workers"`
	QueueLength   int `json:"queue_length"`
	QueueCapacity int `json:"queue_capacity"`
}

func NewWorkerPool(maxWorkers int, submitTimeout time.Duration, logger zerolog.Logger) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if submitTimeout <= 0 {
		submitTimeout = time.Second
	}

	return &WorkerPool{
		tasks:         make(chan Task, maxWorkers*10),
		maxWorkers:    maxWorkers,
		submitTimeout: submitTimeout,
		logger:        logger,
	}
}

func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		wp.logger.Info().Int("max_workers", wp.maxWorkers).Msg("Starting worker pool")

		for i := 0; i < wp.maxWorkers; i++ {
			wp.wg.Add(1)
			go wp.worker(i, wp.tasks)
		}
	})
}

// Stop закрывает очередь и ждет, пока воркеры доработают уже принятые задачи.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		wp.logger.Info().Msg("Stopping worker pool")

		wp.mu.Lock()
		wp.closed = true
		close(wp.tasks)
		wp.mu.Unlock()

		wp.wg.Wait()

		wp.logger.Info().Msg("Worker pool stopped")
	})
}

// Submit возвращает false, если пул остановлен или очередь не освободилась за submitTimeout.
func (wp *WorkerPool) Submit(task Task) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		wp.logger.Error().Msg("Worker pool is stopped, task rejected")
		return false
	}

	select {
	case wp.tasks <- task:
		return true
	default:
	}

	wp.logger.Warn().Msg("Worker pool task queue is full")

	timer := time.NewTimer(wp.submitTimeout)
	defer timer.Stop()

	select {
	case wp.tasks <- task:
		return true
	case <-timer.C:
		wp.logger.Error().Msg("Failed to submit task to worker pool (timeout)")
		return false
	}
}

func (wp *WorkerPool) worker(id int, tasks <-chan Task) {
	defer wp.wg.Done()

	wp.logger.Debug().Int("worker_id", id).Msg("Worker started")

	for task := range tasks {
		wp.run(id, task)
	}

	wp.logger.Debug().Int("worker_id", id).Msg("Worker stopped")
}

func (wp *WorkerPool) run(id int, task Task) {
	wp.statsMu.Lock()
	wp.busyWorkers++
	wp.statsMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error().
				Int("worker_id", id).
				Interface("panic", r).
				Msg("Worker recovered from panic")
		}

		wp.statsMu.Lock()
		wp.busyWorkers--
		wp.statsMu.Unlock()
	}()

	task()
}

func (wp *WorkerPool) Stats() PoolStats {
	wp.statsMu.Lock()
	defer wp.statsMu.Unlock()

	return PoolStats{
		BusyWorkers:   wp.busyWorkers,
		MaxWorkers:    wp.maxWorkers,
		QueueLength:   len(wp.tasks),
		QueueCapacity: cap(wp.tasks),
	}
}
