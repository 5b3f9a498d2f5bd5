package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuanbq/marketplace-be/internal/engine/domain"
)

type fakePublisher struct {
	bodies       [][]byte
	contentTypes []string
	err          error
}

func (p *fakePublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	p.bodies = append(p.bodies, body)
	p.contentTypes = append(p.contentTypes, contentType)
	return p.err
}

func TestNotify(t *testing.T) {
	publisher := &fakePublisher{}
	notifier := NewNotifier(publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	notifier.Notify(context.Background(), domain.Notification{
		Event:      "job-approved",
		Recipient:  domain.RecipientContractor,
		EntityType: "job",
		EntityID:   "job-1",
	})

	require.Len(t, publisher.bodies, 1)
	assert.Equal(t, "application/json", publisher.contentTypes[0])

	var payload map[string]string
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &payload))
	assert.Equal(t, "job-approved", payload["event"])
	assert.Equal(t, "contractor", payload["recipient"])
	assert.Equal(t, "job", payload["entity_type"])
	assert.Equal(t, "job-1", payload["entity_id"])
}

func TestNotifySwallowsPublishFailure(t *testing.T) {
	publisher := &fakePublisher{err: errors.New("broker gone")}
	notifier := NewNotifier(publisher, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NotPanics(t, func() {
		notifier.Notify(context.Background(), domain.Notification{
			Event:     "payment-sent",
			Recipient: domain.RecipientContractor,
			EntityID:  "pr-1",
		})
	})
	assert.Len(t, publisher.bodies, 1, "the publish was attempted")
}
