package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/accountsync/userservice/internal/events"
	"github.com/accountsync/userservice/internal/identity"
	"github.com/accountsync/userservice/internal/mq"
)

type stubIdentityProvider struct {
	deleted  []string
	failWith error
}

func (p *stubIdentityProvider) DeleteUser(_ context.Context, id string) error {
	if p.failWith != nil {
		return p.failWith
	}
	p.deleted = append(p.deleted, id)
	return nil
}

type stubDeduper struct {
	seen     map[string]bool
	checkErr error
}

func newStubDeduper() *stubDeduper {
	return &stubDeduper{seen: map[string]bool{}}
}

func (d *stubDeduper) IsDuplicate(_ context.Context, id string) (bool, error) {
	if d.checkErr != nil {
		return false, d.checkErr
	}
	return d.seen[id], nil
}

func (d *stubDeduper) Mark(_ context.Context, id string) error {
	d.seen[id] = true
	return nil
}

type stubBroker struct {
	subscription mq.Subscription
}

func (b *stubBroker) Subscribe(_ context.Context, sub mq.Subscription, _ mq.Handler) error {
	b.subscription = sub
	return nil
}

func deletionMessage(id string) mq.Message {
	return mq.Message{ID: "msg-1", Data: []byte(id)}
}

func TestHandleDeletesUser(t *testing.T) {
	idp := &stubIdentityProvider{}
	r := New(&stubBroker{}, idp, nil, zerolog.Nop())

	if err := r.Handle(context.Background(), deletionMessage("u1")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(idp.deleted) != 1 || idp.deleted[0] != "u1" {
		t.Errorf("expected delete of u1, got %v", idp.deleted)
	}
}

func TestHandleReturnsProviderErrorForRedelivery(t *testing.T) {
	providerErr := errors.New("keycloak unavailable")
	idp := &stubIdentityProvider{failWith: providerErr}
	r := New(&stubBroker{}, idp, nil, zerolog.Nop())

	if err := r.Handle(context.Background(), deletionMessage("u1")); !errors.Is(err, providerErr) {
		t.Fatalf("expected provider error back for redelivery, got %v", err)
	}
}

func TestHandleAcksAlreadyAbsentUser(t *testing.T) {
	idp := &stubIdentityProvider{failWith: identity.ErrUserNotFound}
	r := New(&stubBroker{}, idp, nil, zerolog.Nop())

	// A duplicate delivery for a user the provider already deleted must
	// ack, not propagate an error.
	if err := r.Handle(context.Background(), deletionMessage("u1")); err != nil {
		t.Fatalf("expected nil for already-absent user, got %v", err)
	}
}

func TestHandleDropsBlankPayload(t *testing.T) {
	idp := &stubIdentityProvider{}
	r := New(&stubBroker{}, idp, nil, zerolog.Nop())

	if err := r.Handle(context.Background(), deletionMessage("  ")); err != nil {
		t.Fatalf("expected blank payload to be acked, got %v", err)
	}
	if len(idp.deleted) != 0 {
		t.Errorf("provider called for blank payload: %v", idp.deleted)
	}
}

func TestHandleSkipsDuplicateDeliveries(t *testing.T) {
	idp := &stubIdentityProvider{}
	dedup := newStubDeduper()
	r := New(&stubBroker{}, idp, dedup, zerolog.Nop())

	if err := r.Handle(context.Background(), deletionMessage("u1")); err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}
	if err := r.Handle(context.Background(), deletionMessage("u1")); err != nil {
		t.Fatalf("second delivery returned error: %v", err)
	}
	if len(idp.deleted) != 1 {
		t.Errorf("expected 1 provider call, got %d", len(idp.deleted))
	}
}

func TestHandleProceedsWhenDedupCheckFails(t *testing.T) {
	idp := &stubIdentityProvider{}
	dedup := newStubDeduper()
	dedup.checkErr = errors.New("redis down")
	r := New(&stubBroker{}, idp, dedup, zerolog.Nop())

	if err := r.Handle(context.Background(), deletionMessage("u1")); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(idp.deleted) != 1 {
		t.Errorf("expected provider call despite dedup failure, got %d", len(idp.deleted))
	}
}

func TestRunBindsDeletionQueue(t *testing.T) {
	broker := &stubBroker{}
	r := New(broker, &stubIdentityProvider{}, nil, zerolog.Nop())

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	sub := broker.subscription
	if sub.Queue != events.KeycloakQueue || sub.Exchange != events.UserExchange || sub.BindingKey != events.UserDeletedKey {
		t.Errorf("unexpected subscription: %+v", sub)
	}
}
