// Package pipeline orchestrates batch order submission: circuit breaker and
// overload checks, admission gate acquisition, a read-only load transaction,
// the out-of-transaction trade-execution call, and a write-only batched
// status update with per-order result isolation.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/finvex/ordergate/internal/admission"
	"github.com/finvex/ordergate/internal/apierr"
	"github.com/finvex/ordergate/internal/breaker"
	"github.com/finvex/ordergate/internal/events"
	"github.com/finvex/ordergate/internal/orders/model"
	"github.com/finvex/ordergate/internal/orders/repository"
	"github.com/finvex/ordergate/internal/overload"
	"github.com/finvex/ordergate/internal/tradeexec"
	"github.com/finvex/ordergate/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Per-item lifecycle statuses.
const (
	ItemStatusPending   = "PENDING"
	ItemStatusLoaded    = "LOADED"
	ItemStatusSubmitted = "SUBMITTED"
	ItemStatusUpdated   = "UPDATED"
	ItemStatusFailed    = "FAILED"
)

// ItemResult is the terminal outcome of one order in a batch. RequestIndex is
// stable: results are returned in input order regardless of processing order.
type ItemResult struct {
	RequestIndex int         `json:"request_index"`
	OrderID      uuid.UUID   `json:"order_id"`
	Status       string      `json:"status"`
	ErrorKind    apierr.Kind `json:"error_kind,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// BatchResult aggregates a completed batch. Successful+Failed always equals
// TotalRequested.
type BatchResult struct {
	BatchID        uuid.UUID    `json:"batch_id"`
	TotalRequested int          `json:"total_requested"`
	Successful     int          `json:"successful"`
	Failed         int          `json:"failed"`
	Items          []ItemResult `json:"items"`
}

// OrderStore is the persistence collaborator consumed by the pipeline.
type OrderStore interface {
	LoadOrdersWithRelations(ctx context.Context, ids []uuid.UUID) ([]repository.LoadedOrder, error)
	BatchUpdateStatuses(ctx context.Context, updates []repository.StatusUpdate) ([]repository.UpdateAck, error)
}

// Config holds the pipeline phase timeouts and limits.
type Config struct {
	LoadTimeout   time.Duration
	UpdateTimeout time.Duration
	MaxBatchSize  int
}

// Submitter runs batch submissions.
type Submitter struct {
	cfg       Config
	gate      *admission.Gate
	brk       *breaker.Breaker
	probe     *overload.Probe
	detector  *overload.Detector
	store     OrderStore
	exec      tradeexec.Client
	publisher events.Publisher
	logger    *zap.Logger
}

// NewSubmitter wires the pipeline. publisher may be nil.
func NewSubmitter(
	cfg Config,
	gate *admission.Gate,
	brk *breaker.Breaker,
	probe *overload.Probe,
	detector *overload.Detector,
	store OrderStore,
	exec tradeexec.Client,
	publisher events.Publisher,
	logger *zap.Logger,
) *Submitter {
	return &Submitter{
		cfg:       cfg,
		gate:      gate,
		brk:       brk,
		probe:     probe,
		detector:  detector,
		store:     store,
		exec:      exec,
		publisher: publisher,
		logger:    logger,
	}
}

// batchItem tracks one order through the phases. Items fail independently;
// one bad order never aborts the batch.
type batchItem struct {
	index  int
	id     uuid.UUID
	order  *model.Order
	status string
	kind   apierr.Kind
	msg    string
}

func (it *batchItem) fail(kind apierr.Kind, msg string) {
	it.status = ItemStatusFailed
	it.kind = kind
	it.msg = msg
}

// SubmitBatch processes one batch of order IDs. Whole-batch rejections
// (breaker open, overload, gate timeout) return a classified error; otherwise
// the batch completes with per-item outcomes.
func (s *Submitter) SubmitBatch(ctx context.Context, orderIDs []uuid.UUID) (*BatchResult, error) {
	if len(orderIDs) == 0 {
		return nil, apierr.Validation("batch contains no orders")
	}
	if s.cfg.MaxBatchSize > 0 && len(orderIDs) > s.cfg.MaxBatchSize {
		return nil, apierr.Validation("batch exceeds maximum size")
	}

	// Breaker check first: open-circuit rejections are fail-fast and touch no
	// shared resources.
	snapshot := s.probe.Sample()
	s.brk.NoteUtilization(snapshot.DBConnectionUtilization)

	if err := s.brk.Allow(); err != nil {
		var openErr *breaker.OpenError
		if errors.As(err, &openErr) {
			return nil, apierr.CircuitOpen(openErr.Remaining)
		}
		return nil, apierr.Internal(err)
	}

	// From here on the breaker has possibly admitted us as the half-open
	// trial. Exactly one of success/failure/cancel resolves it.
	result, err := s.run(ctx, snapshot, orderIDs)
	switch {
	case err == nil:
		s.brk.RecordSuccess()
	case isPreExecutionRejection(err):
		// Load shedding before the guarded operation ran; the trial slot, if
		// any, goes back up for grabs.
		s.brk.CancelTrial()
	default:
		s.brk.RecordFailure()
	}
	return result, err
}

func isPreExecutionRejection(err error) bool {
	classified := apierr.Classify(err)
	return classified.Kind == apierr.KindServiceOverloaded ||
		classified.Kind == apierr.KindConcurrencyLimit ||
		classified.Kind == apierr.KindValidation
}

// run executes the overload check and the three pipeline phases.
func (s *Submitter) run(ctx context.Context, snapshot overload.Snapshot, orderIDs []uuid.UUID) (*BatchResult, error) {
	decision := s.detector.Detect(snapshot)
	if decision.Overloaded {
		metrics.OverloadEvents.WithLabelValues(decision.Resource).Inc()
		s.logger.Warn("batch rejected by overload detector",
			zap.String("resource", decision.Resource),
			zap.Float64("severity", decision.Severity),
			zap.Int("retry_after_seconds", decision.RetryAfterSeconds))
		return nil, apierr.Overloaded(time.Duration(decision.RetryAfterSeconds) * time.Second)
	}

	// One permit bounds the whole batch, not individual statements.
	permit, err := s.gate.Acquire(ctx)
	if err != nil {
		if errors.Is(err, admission.ErrAcquireTimeout) {
			return nil, apierr.ConcurrencyLimit(err)
		}
		return nil, apierr.Internal(err)
	}
	defer permit.Release()

	start := time.Now()
	batchID := uuid.New()

	items := make([]*batchItem, len(orderIDs))
	for i, id := range orderIDs {
		items[i] = &batchItem{index: i, id: id, status: ItemStatusPending}
	}

	if err := s.loadPhase(ctx, items, orderIDs); err != nil {
		metrics.BatchesSubmitted.WithLabelValues("load_failed").Inc()
		return nil, err
	}

	s.externalPhase(ctx, items)

	if err := s.updatePhase(ctx, items); err != nil {
		metrics.BatchesSubmitted.WithLabelValues("update_failed").Inc()
		return nil, err
	}

	result := s.aggregate(batchID, items)

	elapsed := time.Since(start)
	metrics.BatchLatency.Observe(elapsed.Seconds())
	metrics.BatchesSubmitted.WithLabelValues("completed").Inc()

	if s.publisher != nil {
		s.publisher.PublishBatchCompleted(events.BatchCompleted{
			BatchID:        batchID,
			TotalRequested: result.TotalRequested,
			Successful:     result.Successful,
			Failed:         result.Failed,
			DurationMillis: elapsed.Milliseconds(),
			CompletedAt:    time.Now().UTC(),
		})
	}

	s.logger.Info("batch submission completed",
		zap.String("batch_id", batchID.String()),
		zap.Int("total", result.TotalRequested),
		zap.Int("successful", result.Successful),
		zap.Int("failed", result.Failed),
		zap.Duration("elapsed", elapsed))

	return result, nil
}

// loadPhase fetches all orders in one eager query inside a read-only
// transaction. Missing or ineligible orders become per-item failures.
func (s *Submitter) loadPhase(ctx context.Context, items []*batchItem, orderIDs []uuid.UUID) error {
	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.LoadTimeout)
	defer cancel()

	loaded, err := s.store.LoadOrdersWithRelations(loadCtx, orderIDs)
	if err != nil {
		s.logger.Error("batch load phase failed", zap.Error(err))
		return apierr.Internal(err)
	}

	for i, lo := range loaded {
		item := items[i]
		switch {
		case !lo.Found:
			item.fail(apierr.KindValidation, "order not found")
		case lo.Order.Status != model.OrderStatusNew:
			item.fail(apierr.KindValidation, "order is not in a submittable state")
		default:
			item.order = lo.Order
			item.status = ItemStatusLoaded
		}
	}
	return nil
}

// externalPhase submits loaded orders to the trade-execution service. No
// transaction is held across this call. Failures affect only the items in
// this batch; they are recorded per item, never propagated.
func (s *Submitter) externalPhase(ctx context.Context, items []*batchItem) {
	var subs []tradeexec.OrderSubmission
	for _, item := range items {
		if item.status != ItemStatusLoaded {
			continue
		}
		subs = append(subs, tradeexec.OrderSubmission{
			OrderID:  item.order.ID,
			Symbol:   item.order.Symbol,
			Side:     item.order.Side,
			Type:     item.order.Type,
			Price:    item.order.Price,
			Quantity: item.order.Quantity,
		})
	}
	if len(subs) == 0 {
		return
	}

	results, err := s.exec.SubmitBatch(ctx, subs)
	if err != nil {
		kind := apierr.KindInternal
		msg := "trade execution call failed"
		if errors.Is(err, tradeexec.ErrTimeout) {
			kind = apierr.KindExternalTimeout
			msg = "trade execution call timed out"
		}
		s.logger.Error("batch external phase failed", zap.Error(err), zap.Int("orders", len(subs)))
		for _, item := range items {
			if item.status == ItemStatusLoaded {
				item.fail(kind, msg)
			}
		}
		return
	}

	byID := make(map[uuid.UUID]tradeexec.SubmissionResult, len(results))
	for _, res := range results {
		byID[res.OrderID] = res
	}

	for _, item := range items {
		if item.status != ItemStatusLoaded {
			continue
		}
		res, ok := byID[item.order.ID]
		switch {
		case !ok:
			item.fail(apierr.KindExternalTimeout, "no result returned for order")
		case res.Accepted:
			item.status = ItemStatusSubmitted
			item.order.ExternalRef = res.ExternalRef
			item.order.Status = model.OrderStatusAccepted
		default:
			// Rejected orders still get their status persisted in the update
			// phase; the item itself is a failure.
			item.fail(apierr.KindValidation, "rejected by trade execution: "+res.Reason)
			item.order.Status = model.OrderStatusRejected
			item.order.ExternalRef = res.ExternalRef
		}
	}
}

// updatePhase persists statuses for every order that received a response,
// keyed by optimistic-lock version. If the engine aborts the whole group on
// one offending item, the group is retried without it.
func (s *Submitter) updatePhase(ctx context.Context, items []*batchItem) error {
	pending := make(map[uuid.UUID]*batchItem)
	var updates []repository.StatusUpdate
	for _, item := range items {
		if item.order == nil || item.order.Status == model.OrderStatusNew {
			continue
		}
		pending[item.order.ID] = item
		updates = append(updates, repository.StatusUpdate{
			OrderID:     item.order.ID,
			Version:     item.order.Version,
			Status:      item.order.Status,
			ExternalRef: item.order.ExternalRef,
		})
	}
	if len(updates) == 0 {
		return nil
	}

	// Bounded by the update count: each retry excludes at least one item.
	for attempt := 0; len(updates) > 0 && attempt <= len(items); attempt++ {
		updateCtx, cancel := context.WithTimeout(ctx, s.cfg.UpdateTimeout)
		acks, err := s.store.BatchUpdateStatuses(updateCtx, updates)
		cancel()

		if err != nil {
			var offender *repository.OffenderError
			if errors.As(err, &offender) {
				metrics.UpdateRetries.Inc()
				s.logger.Warn("batched update aborted, retrying without offender",
					zap.String("order_id", offender.OrderID.String()),
					zap.Error(err))
				if item, ok := pending[offender.OrderID]; ok {
					item.fail(apierr.KindInternal, "status update failed")
				}
				updates = excludeUpdate(updates, offender.OrderID)
				continue
			}
			s.logger.Error("batch update phase failed", zap.Error(err))
			for _, item := range pending {
				if item.status == ItemStatusSubmitted {
					item.fail(apierr.KindInternal, "status update failed")
				}
			}
			return apierr.Internal(err)
		}

		for _, ack := range acks {
			item, ok := pending[ack.OrderID]
			if !ok {
				continue
			}
			switch {
			case !ack.Applied:
				item.fail(apierr.KindOptimisticConflict,
					"order was modified concurrently, re-fetch and retry")
			case item.status == ItemStatusSubmitted:
				item.status = ItemStatusUpdated
			}
		}
		updates = nil
	}
	return nil
}

func excludeUpdate(updates []repository.StatusUpdate, id uuid.UUID) []repository.StatusUpdate {
	filtered := updates[:0]
	for _, u := range updates {
		if u.OrderID != id {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// aggregate folds items into the BatchResult, preserving request order.
func (s *Submitter) aggregate(batchID uuid.UUID, items []*batchItem) *BatchResult {
	result := &BatchResult{
		BatchID:        batchID,
		TotalRequested: len(items),
		Items:          make([]ItemResult, len(items)),
	}
	for i, item := range items {
		status := item.status
		if status != ItemStatusUpdated {
			// Anything short of a persisted update is a failure outcome.
			if status != ItemStatusFailed {
				item.fail(apierr.KindInternal, "order did not complete the pipeline")
			}
			status = ItemStatusFailed
		}
		result.Items[i] = ItemResult{
			RequestIndex: item.index,
			OrderID:      item.id,
			Status:       status,
			ErrorKind:    item.kind,
			ErrorMessage: item.msg,
		}
		if status == ItemStatusUpdated {
			result.Successful++
			metrics.BatchOrders.WithLabelValues("success").Inc()
		} else {
			result.Failed++
			metrics.BatchOrders.WithLabelValues(string(item.kind)).Inc()
		}
	}
	return result
}
