package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryBroker is a Broker backed by in-process channels, used by tests
// and by single-process demos. Modeled on the shape of the teacher's
// channel-based Notifier: per-queue buffered channels plus a result map
// guarded by a mutex and per-result wake channels.
type InMemoryBroker struct {
	mu      sync.Mutex
	queues  map[string]chan Task
	results map[string]string
	waiters map[string][]chan struct{}
	closed  bool
}

// NewInMemoryBroker returns an empty broker.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		queues:  make(map[string]chan Task),
		results: make(map[string]string),
		waiters: make(map[string][]chan struct{}),
	}
}

func (b *InMemoryBroker) queueChan(queue string) chan Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.queues[queue]
	if !ok {
		ch = make(chan Task, 64)
		b.queues[queue] = ch
	}
	return ch
}

func (b *InMemoryBroker) SendTask(ctx context.Context, queue, payload string) (string, error) {
	resultID := uuid.New().String()
	task := Task{ResultID: resultID, Queue: queue, Payload: payload}

	select {
	case b.queueChan(queue) <- task:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return resultID, nil
}

func (b *InMemoryBroker) Wait(ctx context.Context, resultID string) (string, error) {
	for {
		b.mu.Lock()
		if payload, ok := b.results[resultID]; ok {
			delete(b.results, resultID)
			b.mu.Unlock()
			return payload, nil
		}
		wake := make(chan struct{})
		b.waiters[resultID] = append(b.waiters[resultID], wake)
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (b *InMemoryBroker) Consume(ctx context.Context, queues []string) (<-chan Task, error) {
	out := make(chan Task)

	var wg sync.WaitGroup
	for _, q := range queues {
		ch := b.queueChan(q)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case t := <-ch:
					select {
					case out <- t:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

func (b *InMemoryBroker) Complete(_ context.Context, resultID, payload string) error {
	b.mu.Lock()
	b.results[resultID] = payload
	wakers := b.waiters[resultID]
	delete(b.waiters, resultID)
	b.mu.Unlock()

	for _, w := range wakers {
		close(w)
	}
	return nil
}

func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
