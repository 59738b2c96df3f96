// Package memory keeps every entity in process memory. It backs local
// development (STORE_BACKEND=memory) and the service tests.
package memory

import (
	"sort"
	"sync"

	"github.com/go-calendar-nosql/internal/domain"
)

// Store holds all tables behind one lock so multi-row writes are atomic,
// the same way the DynamoDB repos use transactions.
type Store struct {
	mu sync.RWMutex

	users           map[string]*domain.User
	calendars       map[string]*domain.Calendar
	calendarMembers map[memberKey]*domain.CalendarMember
	events          map[string]*domain.Event
	eventMembers    map[memberKey]*domain.EventMember
	tokens          map[string]*domain.ApprovalToken

	objectStore *ObjectStore
}

type memberKey struct {
	parentID string
	userID   string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:           make(map[string]*domain.User),
		calendars:       make(map[string]*domain.Calendar),
		calendarMembers: make(map[memberKey]*domain.CalendarMember),
		events:          make(map[string]*domain.Event),
		eventMembers:    make(map[memberKey]*domain.EventMember),
		tokens:          make(map[string]*domain.ApprovalToken),
	}
}

func (s *Store) Users() *UserRepo                     { return &UserRepo{s: s} }
func (s *Store) Calendars() *CalendarRepo             { return &CalendarRepo{s: s} }
func (s *Store) CalendarMembers() *CalendarMemberRepo { return &CalendarMemberRepo{s: s} }
func (s *Store) Events() *EventRepo                   { return &EventRepo{s: s} }
func (s *Store) EventMembers() *EventMemberRepo       { return &EventMemberRepo{s: s} }
func (s *Store) Tokens() *TokenRepo                   { return &TokenRepo{s: s} }

// sortByCreated orders rows oldest first so listings are stable.
func sortByCreated[T any](rows []*T, created func(*T) int64) {
	sort.SliceStable(rows, func(i, j int) bool { return created(rows[i]) < created(rows[j]) })
}
