package pool

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed возвращается при отправке задачи в остановленный пул
var ErrPoolClosed = errors.New("worker pool is closed")

// ErrQueueFull возвращается когда очередь задач заполнена
var ErrQueueFull = errors.New("worker pool queue is full")

// Task единица работы для пула
type Task func(ctx context.Context)

// WorkerPool ограниченный пул воркеров с фиксированной очередью.
// Используется для обработки входящих MQTT сообщений, чтобы всплеск
// публикаций не порождал неограниченное число горутин.
type WorkerPool struct {
	tasks   chan Task
	workers int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewWorkerPool создает пул с заданным числом воркеров и размером очереди
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &WorkerPool{
		tasks:   make(chan Task, queueSize),
		workers: workers,
	}
}

// Start запускает воркеры. Воркеры завершаются после Stop, когда
// очередь задач опустеет.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task(ctx)
			}
		}()
	}
}

// Submit ставит задачу в очередь без блокировки. Если очередь
// заполнена, возвращает ErrQueueFull и задача отбрасывается.
func (p *WorkerPool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop закрывает очередь и ждет завершения уже принятых задач
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// QueueDepth текущее число задач в очереди
func (p *WorkerPool) QueueDepth() int {
	return len(p.tasks)
}
