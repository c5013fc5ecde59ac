package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/accountsync/userservice/internal/events"
	"github.com/accountsync/userservice/internal/store"
	"github.com/accountsync/userservice/types"
	"github.com/rs/zerolog"
)

// ErrEventPublish reports that the local delete committed but the deletion
// event was not accepted by the broker. Callers must treat this as a
// partial success, distinct from "nothing to delete".
var ErrEventPublish = errors.New("deletion event publish failed")

// AccountRepository defines persistence operations for accounts.
type AccountRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	GetByID(ctx context.Context, id string) (types.Account, error)
	List(ctx context.Context) ([]types.Account, error)
	Save(ctx context.Context, account types.Account) (types.Account, error)
	Delete(ctx context.Context, id string) error
}

// Transactor runs fn inside a single local transaction, handing it a
// repository bound to that transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	Transact(ctx context.Context, fn func(AccountRepository) error) error
}

// EventPublisher hands an event to the broker for durable enqueue.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, key string, data []byte, attrs map[string]string) (string, error)
}

// Archiver snapshots an account to external storage before deletion.
type Archiver interface {
	Snapshot(ctx context.Context, account types.Account) (string, error)
}

// RegisterInput carries the identity attributes the gateway forwards.
// Every field is taken as the full current truth for that attribute.
type RegisterInput struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Username  string
	Roles     string
}

// AccountService encapsulates the account use-cases: upsert, list, and
// delete-with-publish.
type AccountService struct {
	repo     AccountRepository
	tx       Transactor
	events   EventPublisher
	archiver Archiver
	log      zerolog.Logger
}

// NewAccountService constructs an AccountService. archiver may be nil, in
// which case deletes skip the snapshot step.
func NewAccountService(repo AccountRepository, tx Transactor, publisher EventPublisher, archiver Archiver, log zerolog.Logger) *AccountService {
	return &AccountService{
		repo:     repo,
		tx:       tx,
		events:   publisher,
		archiver: archiver,
		log:      log,
	}
}

// Register upserts the account keyed by input.ID. A first registration sets
// CreatedAt; later ones keep the original ID and CreatedAt and overwrite
// every other attribute with the submitted values — an omitted field clears
// the stored one, it is not preserved. No event is published and there is no
// concurrency check: concurrent registrations race and the last save wins.
func (s *AccountService) Register(ctx context.Context, input RegisterInput) (types.Account, error) {
	if strings.TrimSpace(input.ID) == "" {
		return types.Account{}, errors.New("account id is required")
	}

	account := types.Account{
		ID:        input.ID,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Username:  input.Username,
		Roles:     input.Roles,
	}

	var saved types.Account
	err := s.tx.Transact(ctx, func(repo AccountRepository) error {
		exists, err := repo.Exists(ctx, input.ID)
		if err != nil {
			return err
		}
		if exists {
			current, err := repo.GetByID(ctx, input.ID)
			if err != nil {
				return err
			}
			account.CreatedAt = current.CreatedAt
		} else {
			account.CreatedAt = time.Now().UTC()
		}

		saved, err = repo.Save(ctx, account)
		return err
	})
	if err != nil {
		return types.Account{}, err
	}

	s.log.Info().Str("user_id", saved.ID).Msg("account registered")
	return saved, nil
}

// List returns a snapshot of every account whose roles label contains
// roleFilter. An empty filter returns all accounts. The scan is O(total
// accounts) per call; the table is assumed small.
func (s *AccountService) List(ctx context.Context, roleFilter string) ([]types.Account, error) {
	accounts, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	roleFilter = strings.TrimSpace(roleFilter)
	if roleFilter == "" {
		return accounts, nil
	}

	filtered := []types.Account{}
	for _, account := range accounts {
		if strings.Contains(account.Roles, roleFilter) {
			filtered = append(filtered, account)
		}
	}
	return filtered, nil
}

// Delete removes the account locally and publishes a deletion event for the
// relay. The exists-check, optional archive snapshot, and row delete share
// one transaction scope; the publish happens after commit, so a broker
// failure surfaces as ErrEventPublish while the local delete stands.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("account id is required")
	}

	err := s.tx.Transact(ctx, func(repo AccountRepository) error {
		exists, err := repo.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}

		if s.archiver != nil {
			account, err := repo.GetByID(ctx, id)
			if err != nil {
				return err
			}
			key, err := s.archiver.Snapshot(ctx, account)
			if err != nil {
				return fmt.Errorf("archive snapshot: %w", err)
			}
			s.log.Debug().Str("user_id", id).Str("key", key).Msg("account snapshot archived")
		}

		return repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("user_id", id).Msg("account deleted locally")

	if _, err := s.events.Publish(ctx, events.UserExchange, events.UserDeletedKey, []byte(id), nil); err != nil {
		s.log.Error().Err(err).Str("user_id", id).Msg("failed to publish deletion event")
		return fmt.Errorf("%w: %v", ErrEventPublish, err)
	}

	s.log.Info().Str("user_id", id).Msg("deletion event published")
	return nil
}
