// Package hub implements the dispatch fabric that wires sources,
// destinations, and a retry agent into one concurrent delivery pipeline.
package hub

import (
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/idlemail/mailhubd/internal/mail"
)

// DefaultQueueDepth bounds every destination's inbound queue and the shared
// retry-agent inbound queue unless WithQueueDepth overrides it. A full
// queue blocks its producer rather than growing without bound.
const DefaultQueueDepth = 64

// Hub is the long-running dispatch fabric. Build one with New, then call
// Run. Hub is not safe for concurrent Run calls; a given Hub instance is
// meant to be run exactly once.
type Hub struct {
	mapping      MappingTable
	sources      []Source
	destinations map[mail.DestinationName]Destination
	retryAgent   RetryAgent // nil if unconfigured
	queueDepth   int
	logger       *slog.Logger

	stop StopToken
}

// Option configures a Hub constructed by New.
type Option func(*Hub)

// WithQueueDepth overrides DefaultQueueDepth for every bounded channel the
// Hub allocates.
func WithQueueDepth(depth int) Option {
	return func(h *Hub) { h.queueDepth = depth }
}

// WithLogger attaches a structured logger; the zero value falls back to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// New builds a Hub from already-instantiated sources, destinations, and an
// optional retry agent, plus the mapping table that routes between them.
// Translating a parsed configuration document into these concrete instances
// is the config package's job (see internal/config/topology.go); the Hub
// itself only knows the small uniform Source/Destination/RetryAgent
// interfaces, so adding a new kind of any of the three never touches this
// package.
func New(mapping MappingTable, sources []Source, destinations map[mail.DestinationName]Destination, retryAgent RetryAgent, opts ...Option) *Hub {
	h := &Hub{
		mapping:      mapping,
		sources:      sources,
		destinations: destinations,
		retryAgent:   retryAgent,
		queueDepth:   DefaultQueueDepth,
		logger:       slog.Default(),
		stop:         NewStopToken(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StopHandle hands out the Hub's stop token. Calling Stop on it — from a
// signal handler, a test, or anywhere else — initiates graceful shutdown.
func (h *Hub) StopHandle() StopToken {
	return h.stop
}

// Run starts every source, destination worker, and the retry agent (if
// configured), then blocks until the stop token fires and every worker has
// quiesced. It returns the aggregated set of worker panics recovered during
// the run, or nil if none occurred.
func (h *Hub) Run() error {
	sourceIngress := make(chan SourceMail, h.queueDepth)
	retryIngress := make(chan RetryMail, h.queueDepth)
	retryInbound := make(chan RetryRequest, h.queueDepth)

	var retryOut chan<- RetryRequest
	if h.retryAgent != nil {
		retryOut = retryInbound
	}

	workers := make(map[mail.DestinationName]*destinationWorker, len(h.destinations))
	for name, dest := range h.destinations {
		workers[name] = newDestinationWorker(dest, h.queueDepth, retryOut, h.stop, h.logger)
	}

	var panicsMu sync.Mutex
	var panicErrs error
	recordPanic := func(label string, r any) {
		err := fmt.Errorf("%s: panic: %v", label, r)
		h.logger.Error("worker panic recovered during run", "worker", label, "error", err)
		panicsMu.Lock()
		panicErrs = multierr.Append(panicErrs, err)
		panicsMu.Unlock()
		h.stop.Stop()
	}

	var destWG sync.WaitGroup
	for name, w := range workers {
		destWG.Add(1)
		go func(label string, w *destinationWorker) {
			defer destWG.Done()
			defer func() {
				if r := recover(); r != nil {
					recordPanic(label, r)
				}
			}()
			w.run()
		}(string(name), w)
	}

	var srcWG sync.WaitGroup
	for _, src := range h.sources {
		srcWG.Add(1)
		go func(src Source) {
			defer srcWG.Done()
			defer func() {
				if r := recover(); r != nil {
					recordPanic("source:"+string(src.Name()), r)
				}
			}()
			src.Run(sourceIngress, h.stop)
		}(src)
	}

	retryDone := make(chan struct{})
	if h.retryAgent != nil {
		go func() {
			defer close(retryDone)
			defer func() {
				if r := recover(); r != nil {
					recordPanic("retry-agent", r)
				}
			}()
			h.retryAgent.Start(retryInbound, retryIngress, h.stop)
		}()
	} else {
		close(retryDone)
	}

	sourcesDone := make(chan struct{})
	go func() {
		srcWG.Wait()
		close(sourcesDone)
	}()

	h.routeLoop(sourceIngress, retryIngress, workers, sourcesDone, retryDone)

	destWG.Wait()
	<-retryDone

	return panicErrs
}

// routeLoop is the Hub's single supervisory goroutine. It is the sole
// consumer of sourceIngress and retryIngress and the sole writer to every
// destination worker's queue, which is what makes "many producers, one
// consumer" per destination queue true without any locking.
func (h *Hub) routeLoop(sourceIngress <-chan SourceMail, retryIngress <-chan RetryMail, workers map[mail.DestinationName]*destinationWorker, sourcesDone, retryDone <-chan struct{}) {
	destinationsClosed := false

	closeDestinations := func() {
		if destinationsClosed {
			return
		}
		for _, w := range workers {
			close(w.queue)
		}
		destinationsClosed = true
	}

	for sourcesDone != nil || retryDone != nil {
		select {
		case msg := <-sourceIngress:
			h.dispatchFromSource(workers, msg)
		case msg := <-retryIngress:
			h.dispatchToDestination(workers, msg.Destination, msg.Mail)
		case <-sourcesDone:
			sourcesDone = nil // disarm: a closed channel never blocks again
		case <-retryDone:
			retryDone = nil
		}
	}
	h.drainNonBlocking(sourceIngress, retryIngress, workers)
	closeDestinations()
}

// drainNonBlocking flushes whatever is already buffered on the two ingress
// channels without blocking, so that messages produced just before a
// producer finished aren't dropped.
func (h *Hub) drainNonBlocking(sourceIngress <-chan SourceMail, retryIngress <-chan RetryMail, workers map[mail.DestinationName]*destinationWorker) {
	for {
		select {
		case msg := <-sourceIngress:
			h.dispatchFromSource(workers, msg)
		case msg := <-retryIngress:
			h.dispatchToDestination(workers, msg.Destination, msg.Mail)
		default:
			return
		}
	}
}

func (h *Hub) dispatchFromSource(workers map[mail.DestinationName]*destinationWorker, msg SourceMail) {
	for _, dstName := range h.mapping.Destinations(msg.Source) {
		h.dispatchToDestination(workers, dstName, msg.Mail)
	}
}

func (h *Hub) dispatchToDestination(workers map[mail.DestinationName]*destinationWorker, dst mail.DestinationName, m mail.Mail) {
	w, ok := workers[dst]
	if !ok {
		h.logger.Error("mapping references unknown destination, dropping mail", "destination", string(dst), "mail_id", m.ID())
		return
	}
	w.queue <- m
}
