// Package queue provides intelligent build queue management
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poltergeist/poltergeist/pkg/interfaces"
	"github.com/poltergeist/poltergeist/pkg/logger"
	"github.com/poltergeist/poltergeist/pkg/types"
)

const (
	retryBaseDelayMs  = 1000.0
	retryMaxDelayMs   = 30_000.0
	defaultBackoffMul = 2.0
	statsEMAAlpha     = 0.1
)

// queueItem wraps a BuildRequest with its position in the priority heap.
type queueItem struct {
	request *types.BuildRequest
	index   int
}

// buildHeap is a max-heap over queueItems ordered by BuildRequest.Priority.
type buildHeap []*queueItem

func (h buildHeap) Len() int { return len(h) }
func (h buildHeap) Less(i, j int) bool {
	return h[i].request.Priority > h[j].request.Priority
}
func (h buildHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *buildHeap) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *buildHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// queueStats tracks running totals reported via Stats().
type queueStats struct {
	totalBuilds      int
	successfulBuilds int
	failedBuilds     int
	avgBuildTimeMs   float64
}

// IntelligentBuildQueue manages prioritized build requests: dedup via
// pending-rebuild coalescing, max-heap ordering by priority score, bounded
// parallel dispatch, and retry with exponential backoff.
type IntelligentBuildQueue struct {
	config         *types.BuildSchedulingConfig
	logger         logger.Logger
	priorityEngine interfaces.PriorityEngine
	notifier       interfaces.BuildNotifier

	pending  buildHeap
	byTarget map[string]*queueItem

	targets  map[string]types.Target
	builders map[string]interfaces.Builder
	running  map[string]*types.BuildRequest

	pendingRebuilds map[string]bool
	retryCounts     map[string]int

	stats queueStats

	// wake lets schedulers nudge the processor loop between ticks; it is
	// only consumed once Start() is running, so scheduling before Start()
	// never dispatches on its own (matches queue_status()/Dequeue()-based
	// inspection in tests and manual queue draining).
	wake chan struct{}

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIntelligentBuildQueue creates a new intelligent build queue
func NewIntelligentBuildQueue(
	config *types.BuildSchedulingConfig,
	log logger.Logger,
	priorityEngine interfaces.PriorityEngine,
	notifier interfaces.BuildNotifier,
) *IntelligentBuildQueue {
	ctx, cancel := context.WithCancel(context.Background())

	return &IntelligentBuildQueue{
		config:          config,
		logger:          log,
		priorityEngine:  priorityEngine,
		notifier:        notifier,
		byTarget:        make(map[string]*queueItem),
		targets:         make(map[string]types.Target),
		builders:        make(map[string]interfaces.Builder),
		running:         make(map[string]*types.BuildRequest),
		pendingRebuilds: make(map[string]bool),
		retryCounts:     make(map[string]int),
		wake:            make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// signalWake nudges the processor loop to drain before its next tick. Safe
// to call whether or not Start() has been called; if nothing is consuming
// the channel this is a no-op (buffered, non-blocking).
func (q *IntelligentBuildQueue) signalWake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// RegisterTarget registers a target with its builder. Idempotent.
func (q *IntelligentBuildQueue) RegisterTarget(target types.Target, builder interfaces.Builder) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.targets[target.GetName()] = target
	q.builders[target.GetName()] = builder
}

// OnFileChanged is the hot path: schedule a build for every affected target,
// coalescing with any build already running or already queued, then drain.
func (q *IntelligentBuildQueue) OnFileChanged(files []string, targets []types.Target) {
	if q.logger != nil {
		q.logger.Debug(fmt.Sprintf("OnFileChanged called with %d files and %d targets", len(files), len(targets)))
	}

	q.mu.Lock()
	for _, target := range targets {
		q.scheduleTargetBuildLocked(target, files)
	}
	active, queued := len(q.running), q.pending.Len()
	q.mu.Unlock()

	if q.notifier != nil {
		q.notifier.NotifyQueueStatus(active, queued)
	}

	q.signalWake()
}

// QueueTargetBuild bypasses change classification - used for initial builds
// and manual triggers.
func (q *IntelligentBuildQueue) QueueTargetBuild(target types.Target, reason string) {
	q.mu.Lock()
	q.scheduleTargetBuildLocked(target, []string{reason})
	q.mu.Unlock()

	q.signalWake()
}

// scheduleTargetBuildLocked implements schedule_target_build. Caller must
// hold q.mu.
func (q *IntelligentBuildQueue) scheduleTargetBuildLocked(target types.Target, files []string) {
	name := target.GetName()

	// Rule 1: a build for this target is already running - coalesce into
	// a single pending rebuild rather than queuing a concurrent one.
	if _, ok := q.running[name]; ok {
		q.pendingRebuilds[name] = true
		if q.logger != nil {
			q.logger.Debug(fmt.Sprintf("Target %s is building, coalescing into pending rebuild", name))
		}
		return
	}

	priority := 50.0
	if q.priorityEngine != nil {
		priority = q.priorityEngine.CalculatePriority(target, files)
	}

	// Rule 3: already queued - merge triggering files and re-heapify.
	if item, ok := q.byTarget[name]; ok {
		item.request.TriggeringFiles = mergeUnique(item.request.TriggeringFiles, files)
		item.request.Priority = priority
		item.request.Timestamp = time.Now()
		heap.Fix(&q.pending, item.index)
		if q.logger != nil {
			q.logger.Debug(fmt.Sprintf("Merged pending build for target %s, priority %.2f", name, priority))
		}
		return
	}

	// Rule 4: create a fresh request.
	request := &types.BuildRequest{
		Target:          target,
		Priority:        priority,
		Timestamp:       time.Now(),
		TriggeringFiles: files,
		ID:              uuid.New().String(),
	}
	q.pushLocked(request)
	if q.logger != nil {
		q.logger.Debug(fmt.Sprintf("Queued build request for target %s with priority %.2f (queue size: %d)",
			name, priority, q.pending.Len()))
	}
}

func mergeUnique(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, f := range existing {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range added {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Start starts the build queue processor
func (q *IntelligentBuildQueue) Start(ctx context.Context) {
	if q.logger != nil {
		q.logger.Debug("Starting build queue processor")
	}
	q.wg.Add(1)
	go q.processQueue()
}

// Stop stops the build queue
func (q *IntelligentBuildQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}

// Enqueue adds a build request to the queue directly, bypassing
// classification and coalescing. Used by callers that already hold a
// fully-formed BuildRequest.
func (q *IntelligentBuildQueue) Enqueue(request *types.BuildRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pushLocked(request)
	return nil
}

// pushLocked pushes request onto the heap and records it in byTarget.
// Caller must hold q.mu.
func (q *IntelligentBuildQueue) pushLocked(request *types.BuildRequest) {
	item := &queueItem{request: request}
	heap.Push(&q.pending, item)
	q.byTarget[request.Target.GetName()] = item
}

// popLocked pops the highest-priority item and clears its byTarget entry if
// it is still the tracked one. Caller must hold q.mu.
func (q *IntelligentBuildQueue) popLocked() *types.BuildRequest {
	if q.pending.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.pending).(*queueItem)
	name := item.request.Target.GetName()
	if existing, ok := q.byTarget[name]; ok && existing == item {
		delete(q.byTarget, name)
	}
	return item.request
}

// Dequeue removes and returns the highest priority request
func (q *IntelligentBuildQueue) Dequeue() (*types.BuildRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.popLocked(), nil
}

// Peek returns the highest priority request without removing it
func (q *IntelligentBuildQueue) Peek() (*types.BuildRequest, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.pending.Len() == 0 {
		return nil, nil
	}
	return q.pending[0].request, nil
}

// Size returns the queue size
func (q *IntelligentBuildQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.pending.Len()
}

// Clear clears the queue
func (q *IntelligentBuildQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.byTarget = make(map[string]*queueItem)
}

// CancelPending cancels all pending (not yet running) builds for target,
// returning how many were removed.
func (q *IntelligentBuildQueue) CancelPending(targetName string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byTarget[targetName]
	if !ok {
		return 0
	}
	heap.Remove(&q.pending, item.index)
	delete(q.byTarget, targetName)
	return 1
}

// QueueStatus reports the current active/queued counts.
func (q *IntelligentBuildQueue) QueueStatus() (active int, queued int) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.running), q.pending.Len()
}

// Stats reports the running build totals maintained by completion handling.
func (q *IntelligentBuildQueue) Stats() (total, successful, failed int, avgBuildTime time.Duration) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stats.totalBuilds, q.stats.successfulBuilds, q.stats.failedBuilds,
		time.Duration(q.stats.avgBuildTimeMs * float64(time.Millisecond))
}

// Private methods

func (q *IntelligentBuildQueue) processQueue() {
	defer q.wg.Done()

	if q.logger != nil {
		q.logger.Debug("Build queue processor started")
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			if q.logger != nil {
				q.logger.Debug("Build queue processor stopping")
			}
			return
		case <-ticker.C:
			q.drain()
		case <-q.wake:
			q.drain()
		}
	}
}

// drain dispatches queued requests until parallelization capacity or the
// queue is exhausted.
func (q *IntelligentBuildQueue) drain() {
	for {
		request, builder, ok := q.tryDispatchLocked()
		if !ok {
			return
		}

		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.executeBuild(request, builder)
		}()
	}
}

func (q *IntelligentBuildQueue) tryDispatchLocked() (*types.BuildRequest, interfaces.Builder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.running) >= q.config.Parallelization || q.pending.Len() == 0 {
		return nil, nil, false
	}

	request := q.popLocked()
	name := request.Target.GetName()
	q.running[name] = request
	builder := q.builders[name]

	if q.logger != nil {
		q.logger.Debug(fmt.Sprintf("Starting build for target %s (queue size: %d, active builds: %d, parallelization: %d)",
			name, q.pending.Len(), len(q.running), q.config.Parallelization))
	}

	return request, builder, true
}

func (q *IntelligentBuildQueue) executeBuild(request *types.BuildRequest, builder interfaces.Builder) {
	name := request.Target.GetName()
	startTime := time.Now()

	if q.logger != nil {
		q.logger.Debug(fmt.Sprintf("Executing build for target %s", name))
	}

	if q.notifier != nil {
		q.notifier.NotifyBuildStart(name)
	}

	var err error
	if builder != nil {
		err = builder.Build(q.ctx, request.TriggeringFiles)
	} else {
		err = fmt.Errorf("no builder registered for target %s", name)
	}
	duration := time.Since(startTime)

	if q.priorityEngine != nil {
		q.priorityEngine.UpdateTargetMetrics(name, duration, err == nil)
	}

	if q.notifier != nil {
		if err != nil {
			q.notifier.NotifyBuildFailure(name, err)
		} else {
			q.notifier.NotifyBuildSuccess(name, duration)
		}
	}

	q.handleCompletion(request, duration, err)

	q.signalWake()
}

// handleCompletion implements the completion-handling step: remove from
// running, update stats, consume a coalesced rebuild if one accumulated
// while this build ran, and schedule a retry on failure.
func (q *IntelligentBuildQueue) handleCompletion(request *types.BuildRequest, duration time.Duration, buildErr error) {
	name := request.Target.GetName()

	q.mu.Lock()
	delete(q.running, name)
	q.updateStatsLocked(duration, buildErr == nil)

	rebuild := q.pendingRebuilds[name]
	delete(q.pendingRebuilds, name)
	target := q.targets[name]

	var (
		scheduleRetry bool
		retryDelay    time.Duration
		retryAttempt  int
	)
	if buildErr == nil {
		q.retryCounts[name] = 0
	} else if target != nil {
		maxRetries := target.GetMaxRetries()
		attempt := q.retryCounts[name] + 1
		if maxRetries > 0 && attempt <= maxRetries {
			q.retryCounts[name] = attempt
			scheduleRetry = true
			retryAttempt = attempt
			retryDelay = computeBackoff(attempt, target.GetBackoffMultiplier())
		} else {
			q.retryCounts[name] = 0
		}
	}

	if rebuild && target != nil {
		q.scheduleTargetBuildLocked(target, []string{"pending changes"})
	}
	q.mu.Unlock()

	if scheduleRetry {
		if q.logger != nil {
			q.logger.Debug(fmt.Sprintf("Scheduling retry %d for target %s in %s", retryAttempt, name, retryDelay))
		}
		q.scheduleRetryAfter(request, retryDelay)
	}
}

// updateStatsLocked maintains total/success/failure counters and the
// avg_build_time EMA (α=0.1). Caller must hold q.mu.
func (q *IntelligentBuildQueue) updateStatsLocked(duration time.Duration, success bool) {
	q.stats.totalBuilds++
	if success {
		q.stats.successfulBuilds++
	} else {
		q.stats.failedBuilds++
	}

	durationMs := float64(duration.Milliseconds())
	if q.stats.totalBuilds == 1 {
		q.stats.avgBuildTimeMs = durationMs
	} else {
		q.stats.avgBuildTimeMs = q.stats.avgBuildTimeMs*(1-statsEMAAlpha) + durationMs*statsEMAAlpha
	}
}

// computeBackoff implements min(30_000, base_delay · backoff^attempt).
func computeBackoff(attempt int, backoffMultiplier float64) time.Duration {
	if backoffMultiplier <= 0 {
		backoffMultiplier = defaultBackoffMul
	}
	delayMs := retryBaseDelayMs * math.Pow(backoffMultiplier, float64(attempt))
	if delayMs > retryMaxDelayMs {
		delayMs = retryMaxDelayMs
	}
	return time.Duration(delayMs) * time.Millisecond
}

// scheduleRetryAfter re-pushes a copy of request (new id, incremented
// retry_count implied by retryCounts bookkeeping) after delay, then wakes
// the processor loop.
func (q *IntelligentBuildQueue) scheduleRetryAfter(request *types.BuildRequest, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
		}

		retryRequest := &types.BuildRequest{
			Target:          request.Target,
			Priority:        request.Priority,
			Timestamp:       time.Now(),
			TriggeringFiles: request.TriggeringFiles,
			ID:              uuid.New().String(),
		}

		q.mu.Lock()
		name := retryRequest.Target.GetName()
		if _, running := q.running[name]; running {
			q.pendingRebuilds[name] = true
			q.mu.Unlock()
			return
		}
		q.pushLocked(retryRequest)
		q.mu.Unlock()

		q.signalWake()
	}()
}
