package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/campus-booking-api/internal/models"
	"github.com/noah-isme/campus-booking-api/internal/repository"
	appErrors "github.com/noah-isme/campus-booking-api/pkg/errors"
)

// fakeUserRepo is an in-memory user store. InUserScope serialises callers the
// way the row lock does.
type fakeUserRepo struct {
	mu        sync.Mutex
	scopeMu   sync.Mutex
	users     map[string]*models.User
	auditLogs []*models.AuditLog
	saveErr   error
	saves     int
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]*models.User)}
	for _, u := range users {
		repo.users[u.Email] = u
	}
	return repo
}

func (m *fakeUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *u
	return &copy, nil
}

func (m *fakeUserRepo) FindByIDs(ctx context.Context, ids []string) (map[string]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.User)
	for _, id := range ids {
		for _, u := range m.users {
			if u.ID == id {
				out[id] = *u
			}
		}
	}
	return out, nil
}

func (m *fakeUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[email]
	return ok, nil
}

func (m *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Email]; ok {
		return repository.ErrDuplicate
	}
	if user.ID == "" {
		user.ID = "user-" + strconv.Itoa(len(m.users)+1)
	}
	copy := *user
	m.users[user.Email] = &copy
	return nil
}

func (m *fakeUserRepo) Save(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if _, ok := m.users[user.Email]; !ok {
		return sql.ErrNoRows
	}
	copy := *user
	m.users[user.Email] = &copy
	m.saves++
	return nil
}

func (m *fakeUserRepo) InUserScope(ctx context.Context, fn func(store repository.UserStore) error) error {
	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()
	return fn(m)
}

func (m *fakeUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

func (m *fakeUserRepo) get(email string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[email]
}

func (m *fakeUserRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.auditLogs))
	for _, l := range m.auditLogs {
		out = append(out, l.Action)
	}
	return out
}

// fakeBookingRepo keeps bookings in memory. Scopes are serialised with a
// single mutex, which is stricter than per-key advisory locks.
type fakeBookingRepo struct {
	mu       sync.Mutex
	scopeMu  sync.Mutex
	bookings map[string]models.Booking
	seq      int
	scopes   []repository.BookingScope
	saveErr  error
}

func newFakeBookingRepo(bookings ...models.Booking) *fakeBookingRepo {
	repo := &fakeBookingRepo{bookings: make(map[string]models.Booking)}
	for _, b := range bookings {
		repo.bookings[b.ID] = b
	}
	return repo
}

func (m *fakeBookingRepo) filter(keep func(models.Booking) bool) []models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BookingDate != out[j].BookingDate {
			return out[i].BookingDate.Time().After(out[j].BookingDate.Time())
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *fakeBookingRepo) FindByResourceAndDate(ctx context.Context, resourceID string, date models.Date) ([]models.Booking, error) {
	return m.filter(func(b models.Booking) bool { return b.ResourceID == resourceID && b.BookingDate == date }), nil
}

func (m *fakeBookingRepo) FindByUserAndDate(ctx context.Context, userID string, date models.Date) ([]models.Booking, error) {
	return m.filter(func(b models.Booking) bool { return b.UserID == userID && b.BookingDate == date }), nil
}

func (m *fakeBookingRepo) FindByUser(ctx context.Context, userID string) ([]models.Booking, error) {
	return m.filter(func(b models.Booking) bool { return b.UserID == userID }), nil
}

func (m *fakeBookingRepo) FindAll(ctx context.Context, f models.BookingFilter) ([]models.Booking, error) {
	return m.filter(func(b models.Booking) bool {
		if f.Status != nil && b.Status != *f.Status {
			return false
		}
		if f.ResourceID != "" && b.ResourceID != f.ResourceID {
			return false
		}
		if f.Date != nil && b.BookingDate != *f.Date {
			return false
		}
		return true
	}), nil
}

func (m *fakeBookingRepo) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &b, nil
}

func (m *fakeBookingRepo) Save(ctx context.Context, booking *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if booking.ID == "" {
		m.seq++
		booking.ID = "booking-" + strconv.Itoa(m.seq)
		booking.CreatedAt = time.Now().UTC()
	}
	m.bookings[booking.ID] = *booking
	return nil
}

func (m *fakeBookingRepo) InScope(ctx context.Context, scope repository.BookingScope, fn func(store repository.BookingStore) error) error {
	m.scopeMu.Lock()
	defer m.scopeMu.Unlock()
	m.mu.Lock()
	m.scopes = append(m.scopes, scope)
	m.mu.Unlock()
	return fn(m)
}

func (m *fakeBookingRepo) status(id string) models.BookingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id].Status
}

// fakeResourceRepo is an in-memory resource catalogue.
type fakeResourceRepo struct {
	mu        sync.Mutex
	resources map[string]models.Resource
	deleteErr error
}

func newFakeResourceRepo(resources ...models.Resource) *fakeResourceRepo {
	repo := &fakeResourceRepo{resources: make(map[string]models.Resource)}
	for _, r := range resources {
		repo.resources[r.ID] = r
	}
	return repo
}

func (m *fakeResourceRepo) List(ctx context.Context) ([]models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Resource, 0, len(m.resources))
	for _, r := range m.resources {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *fakeResourceRepo) FindByID(ctx context.Context, id string) (*models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (m *fakeResourceRepo) Create(ctx context.Context, resource *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resources {
		if strings.EqualFold(r.Name, resource.Name) {
			return repository.ErrDuplicate
		}
	}
	if resource.ID == "" {
		resource.ID = "resource-" + strconv.Itoa(len(m.resources)+1)
	}
	m.resources[resource.ID] = *resource
	return nil
}

func (m *fakeResourceRepo) Update(ctx context.Context, resource *models.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[resource.ID]; !ok {
		return sql.ErrNoRows
	}
	m.resources[resource.ID] = *resource
	return nil
}

func (m *fakeResourceRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.resources[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.resources, id)
	return nil
}

// plainHasher avoids bcrypt cost in tests.
type plainHasher struct{}

func (plainHasher) Hash(raw string) (string, error) { return "hashed:" + raw, nil }

func (plainHasher) Verify(raw, hash string) bool { return hash == "hashed:"+raw }

// stubIssuer hands out predictable tokens.
type stubIssuer struct {
	expiry time.Duration
	now    func() time.Time
	err    error
}

func (s stubIssuer) Issue(user *models.User) (string, time.Time, error) {
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return "token-for-" + user.Email, s.now().Add(s.expiry), nil
}

func (s stubIssuer) Verify(token string) (*models.JWTClaims, error) {
	email := strings.TrimPrefix(token, "token-for-")
	if email == token {
		return nil, errors.New("bad token")
	}
	return &models.JWTClaims{Email: email}, nil
}

// memoryCache satisfies CacheRepository. Values are stored as JSON the way
// redis holds them. beforeSet, when armed, runs once ahead of the next Set.
type memoryCache struct {
	mu        sync.Mutex
	entries   map[string][]byte
	deleted   []string
	beforeSet func()
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	if raw, ok := c.entries[key]; ok {
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
	}
	n++
	c.entries[key] = []byte(strconv.FormatInt(n, 10))
	return n, nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range c.entries {
		if key == pattern || (strings.HasSuffix(pattern, "*") && strings.HasPrefix(key, prefix)) {
			delete(c.entries, key)
		}
	}
	return nil
}
