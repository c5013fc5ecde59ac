// Package relay bridges deletion events to the external identity provider.
// It is a thin consumer: acknowledge on success, hand the error back to the
// broker otherwise. Retry pacing, redelivery, and backoff all belong to the
// broker, not to this code.
package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/accountsync/userservice/internal/events"
	"github.com/accountsync/userservice/internal/identity"
	"github.com/accountsync/userservice/internal/mq"
	"github.com/rs/zerolog"
)

// IdentityProvider is the single operation the relay needs from the
// external provider.
type IdentityProvider interface {
	DeleteUser(ctx context.Context, id string) error
}

// Broker is the subset of mq operations the relay consumes.
type Broker interface {
	Subscribe(ctx context.Context, sub mq.Subscription, handler mq.Handler) error
}

// Deduper suppresses repeat processing of ids the relay already handled.
type Deduper interface {
	IsDuplicate(ctx context.Context, id string) (bool, error)
	Mark(ctx context.Context, id string) error
}

// Relay consumes user.deleted events and deletes the corresponding user at
// the identity provider.
type Relay struct {
	broker Broker
	idp    IdentityProvider
	dedup  Deduper
	log    zerolog.Logger
}

// New constructs a Relay. dedup may be nil; the relay then relies solely on
// the provider reporting "already absent" for duplicate deliveries.
func New(broker Broker, idp IdentityProvider, dedup Deduper, log zerolog.Logger) *Relay {
	return &Relay{
		broker: broker,
		idp:    idp,
		dedup:  dedup,
		log:    log,
	}
}

// Run blocks consuming the deletion queue until ctx is cancelled or the
// subscription fails.
func (r *Relay) Run(ctx context.Context) error {
	sub := mq.Subscription{
		Queue:      events.KeycloakQueue,
		Exchange:   events.UserExchange,
		BindingKey: events.UserDeletedKey,
	}
	r.log.Info().Str("queue", sub.Queue).Msg("relay consuming deletion events")
	return r.broker.Subscribe(ctx, sub, r.Handle)
}

// Handle processes one delivery. Returning nil acknowledges the message;
// returning an error sends it back to the broker for redelivery.
func (r *Relay) Handle(ctx context.Context, msg mq.Message) error {
	id := strings.TrimSpace(string(msg.Data))
	if id == "" {
		// A blank payload can never succeed; requeueing it would loop
		// forever. Ack it and leave a trace.
		r.log.Error().Str("message_id", msg.ID).Msg("dropping deletion event with empty payload")
		return nil
	}

	if r.dedup != nil {
		dup, err := r.dedup.IsDuplicate(ctx, id)
		if err != nil {
			r.log.Warn().Err(err).Str("user_id", id).Msg("dedup check failed, proceeding")
		} else if dup {
			r.log.Info().Str("user_id", id).Msg("duplicate deletion event, already processed")
			return nil
		}
	}

	if err := r.idp.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			r.log.Info().Str("user_id", id).Msg("user already absent at identity provider")
		} else {
			r.log.Error().Err(err).Str("user_id", id).Msg("identity provider delete failed")
			return err
		}
	} else {
		r.log.Info().Str("user_id", id).Msg("user deleted at identity provider")
	}

	if r.dedup != nil {
		if err := r.dedup.Mark(ctx, id); err != nil {
			r.log.Warn().Err(err).Str("user_id", id).Msg("dedup mark failed")
		}
	}
	return nil
}
