package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/tuanbq/marketplace-be/internal/engine/domain"
	"github.com/tuanbq/marketplace-be/internal/engine/storage/memory"
)

// recordingNotifier captures dispatched notifications for assertions.
type recordingNotifier struct {
	mu            sync.Mutex
	notifications []domain.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, notification domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	events := make([]string, 0, len(n.notifications))
	for _, notification := range n.notifications {
		events = append(events, notification.Event)
	}
	return events
}

func (n *recordingNotifier) last() (domain.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.notifications) == 0 {
		return domain.Notification{}, false
	}
	return n.notifications[len(n.notifications)-1], true
}

// stubProcessor is a scriptable payment processor.
type stubProcessor struct {
	refundErr   error
	refundCalls int
	itemStatus  string
	statusErr   error
	statusCalls int
}

func (p *stubProcessor) RefundCustomerPayment(ctx context.Context, job *domain.Job) error {
	p.refundCalls++
	return p.refundErr
}

func (p *stubProcessor) ItemStatus(ctx context.Context, pr *domain.PaymentRequest) (string, error) {
	p.statusCalls++
	return p.itemStatus, p.statusErr
}

type jobFixture struct {
	store     *memory.Store
	processor *stubProcessor
	notifier  *recordingNotifier
	lifecycle *JobLifecycle
}

func newJobFixture() *jobFixture {
	store := memory.NewStore()
	processor := &stubProcessor{}
	notifier := &recordingNotifier{}
	return &jobFixture{
		store:     store,
		processor: processor,
		notifier:  notifier,
		lifecycle: NewJobLifecycle(&JobConfig{
			Store:           store,
			Processor:       processor,
			Notifier:        notifier,
			Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
			ContractorShare: 0.8,
		}),
	}
}

type paymentFixture struct {
	store     *memory.Store
	processor *stubProcessor
	notifier  *recordingNotifier
	lifecycle *PaymentRequestLifecycle
}

func newPaymentFixture() *paymentFixture {
	store := memory.NewStore()
	processor := &stubProcessor{}
	notifier := &recordingNotifier{}
	return &paymentFixture{
		store:     store,
		processor: processor,
		notifier:  notifier,
		lifecycle: NewPaymentRequestLifecycle(&PaymentConfig{
			Store:              store,
			Processor:          processor,
			Notifier:           notifier,
			Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
			StatusPollInterval: 0,
		}),
	}
}
