// Package memory implements the engine store in process memory. It
// backs the unit tests: WithinTx gives the same all-or-nothing
// semantics as the PostgreSQL store by snapshotting the whole dataset
// and restoring it when the scope fails, and individual writes can be
// forced to fail to exercise rollback paths.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tuanbq/marketplace-be/internal/engine/domain"
)

// Store is an in-memory domain.Store.
type Store struct {
	mu sync.Mutex

	jobs            map[string]domain.Job
	bids            map[string]domain.Bid
	orders          map[string]domain.Order
	comments        map[string]domain.Comment
	commentOrder    []string
	disputes        map[string]domain.Dispute
	disputeOrder    []string
	paymentRequests map[string]domain.PaymentRequest
	batches         map[string]domain.PaymentBatch
	prJobs          map[string][]string
	prOrders        map[string][]string

	// Injectable failures. When set, the matching write returns the
	// error instead of applying.
	FailCreateComment        error
	FailCreateDispute        error
	FailSaveJob              error
	FailSavePaymentRequest   error
	FailCreatePaymentRequest error
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		jobs:            map[string]domain.Job{},
		bids:            map[string]domain.Bid{},
		orders:          map[string]domain.Order{},
		comments:        map[string]domain.Comment{},
		disputes:        map[string]domain.Dispute{},
		paymentRequests: map[string]domain.PaymentRequest{},
		batches:         map[string]domain.PaymentBatch{},
		prJobs:          map[string][]string{},
		prOrders:        map[string][]string{},
	}
}

type txToken struct{}

type snapshot struct {
	jobs            map[string]domain.Job
	bids            map[string]domain.Bid
	orders          map[string]domain.Order
	comments        map[string]domain.Comment
	commentOrder    []string
	disputes        map[string]domain.Dispute
	disputeOrder    []string
	paymentRequests map[string]domain.PaymentRequest
	batches         map[string]domain.PaymentBatch
	prJobs          map[string][]string
	prOrders        map[string][]string
}

// WithinTx runs fn under the store lock. On error the dataset is
// restored to its pre-scope snapshot, so partial writes never stick.
// Nested calls join the ambient scope.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txToken{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txToken{}, true)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// lock acquires the store lock unless the context already holds the
// transaction scope.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txToken{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) snapshot() snapshot {
	return snapshot{
		jobs:            cloneMap(s.jobs),
		bids:            cloneMap(s.bids),
		orders:          cloneMap(s.orders),
		comments:        cloneMap(s.comments),
		commentOrder:    append([]string{}, s.commentOrder...),
		disputes:        cloneMap(s.disputes),
		disputeOrder:    append([]string{}, s.disputeOrder...),
		paymentRequests: cloneMap(s.paymentRequests),
		batches:         cloneMap(s.batches),
		prJobs:          cloneSliceMap(s.prJobs),
		prOrders:        cloneSliceMap(s.prOrders),
	}
}

func (s *Store) restore(snap snapshot) {
	s.jobs = snap.jobs
	s.bids = snap.bids
	s.orders = snap.orders
	s.comments = snap.comments
	s.commentOrder = snap.commentOrder
	s.disputes = snap.disputes
	s.disputeOrder = snap.disputeOrder
	s.paymentRequests = snap.paymentRequests
	s.batches = snap.batches
	s.prJobs = snap.prJobs
	s.prOrders = snap.prOrders
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSliceMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string{}, v...)
	}
	return out
}

// SeedJob inserts a job fixture.
func (s *Store) SeedJob(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
}

// SeedBid inserts a bid fixture.
func (s *Store) SeedBid(bid *domain.Bid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[bid.ID] = *bid
}

// SeedOrder inserts an order fixture.
func (s *Store) SeedOrder(order *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = *order
}

// SeedBatch inserts a payment batch fixture.
func (s *Store) SeedBatch(batch *domain.PaymentBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[batch.ID] = *batch
}

// SeedDispute inserts a dispute fixture.
func (s *Store) SeedDispute(dispute *domain.Dispute) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disputes[dispute.ID] = *dispute
	s.disputeOrder = append(s.disputeOrder, dispute.ID)
}

// SeedPaymentRequest inserts a payment request fixture.
func (s *Store) SeedPaymentRequest(pr *domain.PaymentRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentRequests[pr.ID] = *pr
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	defer s.lock(ctx)()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

func (s *Store) SaveJob(ctx context.Context, job *domain.Job) error {
	defer s.lock(ctx)()
	if s.FailSaveJob != nil {
		return s.FailSaveJob
	}
	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *Store) JobsInState(ctx context.Context, state int) ([]domain.Job, error) {
	defer s.lock(ctx)()
	var jobs []domain.Job
	for _, job := range s.jobs {
		if job.State == state {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (s *Store) GetBid(ctx context.Context, bidID string) (*domain.Bid, error) {
	defer s.lock(ctx)()
	bid, ok := s.bids[bidID]
	if !ok {
		return nil, domain.ErrBidNotFound
	}
	return &bid, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	defer s.lock(ctx)()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &order, nil
}

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) error {
	defer s.lock(ctx)()
	if s.FailCreateComment != nil {
		return s.FailCreateComment
	}
	s.comments[comment.ID] = *comment
	s.commentOrder = append(s.commentOrder, comment.ID)
	return nil
}

// CommentsForJob returns the job's comments in creation order.
func (s *Store) CommentsForJob(ctx context.Context, jobID string) []domain.Comment {
	defer s.lock(ctx)()
	var comments []domain.Comment
	for _, id := range s.commentOrder {
		if c := s.comments[id]; c.JobID == jobID {
			comments = append(comments, c)
		}
	}
	return comments
}

func (s *Store) CreateDispute(ctx context.Context, dispute *domain.Dispute) error {
	defer s.lock(ctx)()
	if s.FailCreateDispute != nil {
		return s.FailCreateDispute
	}
	s.disputes[dispute.ID] = *dispute
	s.disputeOrder = append(s.disputeOrder, dispute.ID)
	return nil
}

func (s *Store) SaveDispute(ctx context.Context, dispute *domain.Dispute) error {
	defer s.lock(ctx)()
	if _, ok := s.disputes[dispute.ID]; !ok {
		return domain.ErrDisputeNotFound
	}
	s.disputes[dispute.ID] = *dispute
	return nil
}

func (s *Store) DisputesForJob(ctx context.Context, jobID string) ([]domain.Dispute, error) {
	defer s.lock(ctx)()
	var disputes []domain.Dispute
	for _, id := range s.disputeOrder {
		if d := s.disputes[id]; d.JobID == jobID {
			disputes = append(disputes, d)
		}
	}
	return disputes, nil
}

func (s *Store) OpenDisputeForJob(ctx context.Context, jobID string) (*domain.Dispute, error) {
	defer s.lock(ctx)()
	for i := len(s.disputeOrder) - 1; i >= 0; i-- {
		d := s.disputes[s.disputeOrder[i]]
		if d.JobID == jobID && d.Opened() {
			return &d, nil
		}
	}
	return nil, domain.ErrDisputeNotFound
}

func (s *Store) GetBatch(ctx context.Context, batchID string) (*domain.PaymentBatch, error) {
	defer s.lock(ctx)()
	batch, ok := s.batches[batchID]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return &batch, nil
}

func (s *Store) CreatePaymentRequest(ctx context.Context, pr *domain.PaymentRequest) error {
	defer s.lock(ctx)()
	if s.FailCreatePaymentRequest != nil {
		return s.FailCreatePaymentRequest
	}
	s.paymentRequests[pr.ID] = *pr
	return nil
}

func (s *Store) SavePaymentRequest(ctx context.Context, pr *domain.PaymentRequest) error {
	defer s.lock(ctx)()
	if s.FailSavePaymentRequest != nil {
		return s.FailSavePaymentRequest
	}
	if _, ok := s.paymentRequests[pr.ID]; !ok {
		return domain.ErrPaymentRequestNotFound
	}
	s.paymentRequests[pr.ID] = *pr
	return nil
}

func (s *Store) GetPaymentRequest(ctx context.Context, id string) (*domain.PaymentRequest, error) {
	defer s.lock(ctx)()
	pr, ok := s.paymentRequests[id]
	if !ok {
		return nil, domain.ErrPaymentRequestNotFound
	}
	return &pr, nil
}

func (s *Store) GetPaymentRequestByItemID(ctx context.Context, itemID string) (*domain.PaymentRequest, error) {
	defer s.lock(ctx)()
	for _, pr := range s.paymentRequests {
		if pr.SenderItemID == itemID {
			return &pr, nil
		}
	}
	return nil, domain.ErrPaymentRequestNotFound
}

func (s *Store) PaymentRequestsInState(ctx context.Context, state int) ([]domain.PaymentRequest, error) {
	defer s.lock(ctx)()
	var prs []domain.PaymentRequest
	for _, pr := range s.paymentRequests {
		if pr.State == state {
			prs = append(prs, pr)
		}
	}
	sort.Slice(prs, func(i, j int) bool { return prs[i].ID < prs[j].ID })
	return prs, nil
}

func (s *Store) AttachJobToPaymentRequest(ctx context.Context, paymentRequestID, jobID string) error {
	defer s.lock(ctx)()
	s.prJobs[paymentRequestID] = append(s.prJobs[paymentRequestID], jobID)
	return nil
}

func (s *Store) AttachOrderToPaymentRequest(ctx context.Context, paymentRequestID, orderID string) error {
	defer s.lock(ctx)()
	s.prOrders[paymentRequestID] = append(s.prOrders[paymentRequestID], orderID)
	return nil
}

// JobsForPaymentRequest returns the job ids associated with a request.
func (s *Store) JobsForPaymentRequest(ctx context.Context, paymentRequestID string) []string {
	defer s.lock(ctx)()
	return append([]string{}, s.prJobs[paymentRequestID]...)
}

// OrdersForPaymentRequest returns the order ids associated with a
// request.
func (s *Store) OrdersForPaymentRequest(ctx context.Context, paymentRequestID string) []string {
	defer s.lock(ctx)()
	return append([]string{}, s.prOrders[paymentRequestID]...)
}

// PaymentRequestCount returns how many payment requests exist.
func (s *Store) PaymentRequestCount(ctx context.Context) int {
	defer s.lock(ctx)()
	return len(s.paymentRequests)
}
