// Package directory implements the user directory on top of an object
// store: one JSON record per user plus a single index object mapping
// lowercased usernames and emails to user IDs.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/logging"
	"github.com/dmitrijs2005/cosauth/internal/server/models"
	"github.com/dmitrijs2005/cosauth/internal/server/objectstore"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000

	defaultIndexRetries = 3
	listFetchWorkers    = 8
)

// ErrIndexContention is returned when every conditional index save lost
// against a concurrent writer.
var ErrIndexContention = fmt.Errorf("%w: index modified concurrently", common.ErrStorage)

// PasswordHasher turns a plaintext password into a storable hash.
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// Observer is notified about writes that left record and index out of step.
type Observer interface {
	Inconsistency(op string)
}

type nopObserver struct{}

func (nopObserver) Inconsistency(string) {}

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// UserPage is one page of List.
type UserPage struct {
	Users      []*models.PublicUser `json:"users"`
	NextMarker string               `json:"nextMarker"`
}

// Options tunes a Service. Zero values pick defaults.
type Options struct {
	// ConditionalWrites guards index saves with the loaded ETag and retries
	// on conflict. Requires a backend that honours If-Match.
	ConditionalWrites bool
	IndexRetries      int
	Logger            logging.Logger
	Observer          Observer
	Now               func() time.Time
	NewID             func() string
}

// Service is the user directory.
//
// Requests are not serialized. Every mutation that touches the index is a
// read-modify-write of one object, so without conditional writes two
// concurrent registrations can both pass the uniqueness check and the later
// index save drops the other's entries. Records stay authoritative and every
// index hit is checked against the record it points to, so a lost or stale
// entry makes a user unreachable by that identifier but never resolves it to
// the wrong account. Reconcile repairs the index.
type Service struct {
	store    objectstore.Store
	index    *IndexStore
	records  *RecordStore
	hasher   PasswordHasher
	retries  int
	logger   logging.Logger
	observer Observer
	now      func() time.Time
	newID    func() string
}

func NewService(store objectstore.Store, hasher PasswordHasher, opts Options) *Service {
	s := &Service{
		store:    store,
		index:    NewIndexStore(store, opts.ConditionalWrites),
		records:  NewRecordStore(store),
		hasher:   hasher,
		retries:  opts.IndexRetries,
		logger:   opts.Logger,
		observer: opts.Observer,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if s.retries <= 0 {
		s.retries = defaultIndexRetries
	}
	if !opts.ConditionalWrites {
		s.retries = 1
	}
	if s.logger == nil {
		s.logger = logging.Nop{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Init prepares the container and writes an empty index on first run.
func (s *Service) Init(ctx context.Context) error {
	if err := s.store.EnsureContainer(ctx); err != nil {
		return err
	}
	idx, version, err := s.index.Load(ctx)
	if err != nil {
		return err
	}
	if version != "" {
		return nil
	}
	if _, err := s.index.Save(ctx, idx, ""); err != nil && !errors.Is(err, objectstore.ErrPreconditionFailed) {
		return err
	}
	s.logger.Info(ctx, "directory index initialised", "key", IndexKey)
	return nil
}

// Ping checks that the index is readable.
func (s *Service) Ping(ctx context.Context) error {
	_, _, err := s.index.Load(ctx)
	return err
}

// Register creates a user and returns its public view.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.PublicUser, error) {
	username := strings.TrimSpace(in.Username)
	email := NormalizeKey(in.Email)
	role := in.Role
	if role == "" {
		role = common.RoleUser
	}

	switch {
	case username == "" || email == "" || in.Password == "":
		return nil, fmt.Errorf("%w: username, email and password are required", common.ErrValidation)
	case utf8.RuneCountInString(in.Password) < common.MinPasswordLength:
		return nil, fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, common.MinPasswordLength)
	case len(in.Password) > common.MaxPasswordBytes:
		return nil, fmt.Errorf("%w: password must be at most %d bytes", common.ErrValidation, common.MaxPasswordBytes)
	case !validRole(role):
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrValidation, role)
	}

	idx, version, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}
	keys := []string{NormalizeKey(username), email}
	for _, k := range keys {
		if idx.Owner(k) != "" {
			return nil, common.ErrConflict
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		ID:           s.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.records.Put(ctx, user); err != nil {
		return nil, err
	}

	err = s.updateIndex(ctx, idx, version, func(idx Index) (bool, error) {
		for _, k := range keys {
			if owner := idx.Owner(k); owner != "" && owner != user.ID {
				return false, common.ErrConflict
			}
		}
		for _, k := range keys {
			idx.Set(k, user.ID)
		}
		return true, nil
	})
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			// Lost the race for the identifier: nothing points at the record.
			if delErr := s.records.Delete(ctx, user.ID); delErr != nil {
				s.logger.Warn(ctx, "orphan record not removed", "user_id", user.ID, "error", delErr)
			}
			return nil, err
		}
		s.inconsistency(ctx, "register", user.ID, err)
		return nil, err
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID, "role", user.Role)
	return user.Public(), nil
}

// FindByIdentifier resolves a username or email in any case. It returns
// nil, nil when no live user owns the identifier.
func (s *Service) FindByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	key := NormalizeKey(identifier)
	if key == "" {
		return nil, nil
	}

	idx, _, err := s.index.Load(ctx)
	if err != nil {
		return nil, err
	}
	id := idx.Owner(key)
	if id == "" {
		return nil, nil
	}

	user, err := s.records.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			s.logger.Debug(ctx, "index entry points to missing record", "key", key, "user_id", id)
			return nil, nil
		}
		return nil, err
	}
	if !ownsKey(user, key) {
		s.logger.Debug(ctx, "stale index entry", "key", key, "user_id", id)
		return nil, nil
	}
	return user, nil
}

// GetByID returns nil, nil when the user does not exist.
func (s *Service) GetByID(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, nil
	}
	user, err := s.records.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// Update applies the non-nil fields of patch. The record is written first
// and the index follows, touching only identifiers that changed.
func (s *Service) Update(ctx context.Context, id string, patch models.UserPatch) (*models.PublicUser, error) {
	current, err := s.records.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("user %s: %w", id, common.ErrorNotFound)
		}
		return nil, err
	}

	updated := *current
	if patch.Username != nil {
		updated.Username = strings.TrimSpace(*patch.Username)
		if updated.Username == "" {
			return nil, fmt.Errorf("%w: username must not be empty", common.ErrValidation)
		}
	}
	if patch.Email != nil {
		updated.Email = NormalizeKey(*patch.Email)
		if updated.Email == "" {
			return nil, fmt.Errorf("%w: email must not be empty", common.ErrValidation)
		}
	}
	if patch.PasswordHash != nil {
		updated.PasswordHash = *patch.PasswordHash
	}
	if patch.Role != nil {
		if !validRole(*patch.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", common.ErrValidation, *patch.Role)
		}
		updated.Role = *patch.Role
	}
	if patch.Active != nil {
		updated.Active = *patch.Active
	}

	swaps := changedKeys(current, &updated)

	var (
		idx     Index
		version string
	)
	if len(swaps) > 0 {
		idx, version, err = s.index.Load(ctx)
		if err != nil {
			return nil, err
		}
		for _, sw := range swaps {
			if owner := idx.Owner(sw.to); owner != "" && owner != id {
				return nil, common.ErrConflict
			}
		}
	}

	if err := s.records.Put(ctx, &updated); err != nil {
		return nil, err
	}

	if len(swaps) > 0 {
		err = s.updateIndex(ctx, idx, version, func(idx Index) (bool, error) {
			for _, sw := range swaps {
				if owner := idx.Owner(sw.to); owner != "" && owner != id {
					return false, common.ErrConflict
				}
			}
			for _, sw := range swaps {
				idx.Remove(sw.from, id)
			}
			for _, sw := range swaps {
				idx.Set(sw.to, id)
			}
			return true, nil
		})
		if err != nil {
			if errors.Is(err, common.ErrConflict) {
				if putErr := s.records.Put(ctx, current); putErr != nil {
					s.inconsistency(ctx, "update", id, putErr)
				}
				return nil, err
			}
			s.inconsistency(ctx, "update", id, err)
			return nil, err
		}
	}

	return updated.Public(), nil
}

// Delete retracts the user's index entries, then removes the record.
func (s *Service) Delete(ctx context.Context, id string) error {
	user, err := s.records.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("user %s: %w", id, common.ErrorNotFound)
		}
		return err
	}

	idx, version, err := s.index.Load(ctx)
	if err != nil {
		return err
	}
	err = s.updateIndex(ctx, idx, version, func(idx Index) (bool, error) {
		u := idx.Remove(NormalizeKey(user.Username), id)
		e := idx.Remove(NormalizeKey(user.Email), id)
		return u || e, nil
	})
	if err != nil {
		return err
	}

	if err := s.records.Delete(ctx, id); err != nil {
		s.inconsistency(ctx, "delete", id, err)
		return err
	}
	s.logger.Info(ctx, "user deleted", "user_id", id)
	return nil
}

// List returns public views of one page of users in storage key order.
// Records that disappear between listing and fetching are skipped.
func (s *Service) List(ctx context.Context, limit int, marker string) (*UserPage, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	ids, next, err := s.records.ListIDs(ctx, limit, marker)
	if err != nil {
		return nil, err
	}

	fetched := make([]*models.User, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listFetchWorkers)
	for i, id := range ids {
		g.Go(func() error {
			u, err := s.records.Get(gctx, id)
			if err != nil {
				if isNotFound(err) {
					return nil
				}
				return err
			}
			fetched[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	page := &UserPage{Users: make([]*models.PublicUser, 0, len(fetched)), NextMarker: next}
	for _, u := range fetched {
		if u != nil {
			page.Users = append(page.Users, u.Public())
		}
	}
	return page, nil
}

// updateIndex applies mutate to idx and saves it. When the save fails its
// precondition the index is reloaded and mutate runs again on the fresh
// copy, up to the configured number of attempts.
func (s *Service) updateIndex(ctx context.Context, idx Index, version string, mutate func(Index) (bool, error)) error {
	for attempt := 1; ; attempt++ {
		changed, err := mutate(idx)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}

		_, err = s.index.Save(ctx, idx, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, objectstore.ErrPreconditionFailed) {
			return err
		}
		if attempt >= s.retries {
			return fmt.Errorf("%w after %d attempts", ErrIndexContention, attempt)
		}

		s.logger.Debug(ctx, "index changed concurrently, retrying", "attempt", attempt)
		idx, version, err = s.index.Load(ctx)
		if err != nil {
			return err
		}
	}
}

func (s *Service) inconsistency(ctx context.Context, op, id string, err error) {
	s.observer.Inconsistency(op)
	s.logger.Error(ctx, "record and index out of step", "op", op, "user_id", id, "error", err)
}

type keySwap struct {
	from, to string
}

func changedKeys(before, after *models.User) []keySwap {
	var out []keySwap
	if from, to := NormalizeKey(before.Username), NormalizeKey(after.Username); from != to {
		out = append(out, keySwap{from: from, to: to})
	}
	if from, to := NormalizeKey(before.Email), NormalizeKey(after.Email); from != to {
		out = append(out, keySwap{from: from, to: to})
	}
	return out
}

func ownsKey(u *models.User, key string) bool {
	return NormalizeKey(u.Username) == key || NormalizeKey(u.Email) == key
}

func validRole(role string) bool {
	return role == common.RoleUser || role == common.RoleAdmin
}
