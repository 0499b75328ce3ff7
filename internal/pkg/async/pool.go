package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func(ctx context.Context) (interface{}, error)
}

type Result struct {
	Name string
	Data interface{}
	Err  error
}

// Pool runs tasks on a bounded number of goroutines. A Pool holds no
// per-call state, so one instance may serve concurrent Execute calls.
type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

// Execute runs every task and returns results keyed by task name. Tasks not
// started before ctx is cancelled report ctx.Err(). A panicking task reports
// an error instead of crashing the process.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	taskCh := make(chan Task)
	resultCh := make(chan Result, len(tasks))

	workers := p.workerCount
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				resultCh <- run(ctx, task)
			}
		}()
	}

	for i, task := range tasks {
		select {
		case taskCh <- task:
		case <-ctx.Done():
			for _, skipped := range tasks[i:] {
				resultCh <- Result{Name: skipped.Name, Err: ctx.Err()}
			}
			close(taskCh)
			wg.Wait()
			return collect(resultCh)
		}
	}
	close(taskCh)
	wg.Wait()
	return collect(resultCh)
}

func run(ctx context.Context, task Task) (result Result) {
	result.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			result.Data = nil
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	result.Data, result.Err = task.Execute(ctx)
	return result
}

func collect(resultCh chan Result) map[string]Result {
	close(resultCh)
	results := make(map[string]Result, len(resultCh))
	for r := range resultCh {
		results[r.Name] = r
	}
	return results
}
