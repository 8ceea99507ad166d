//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-course-streams/internal/domain"
	"telegram-course-streams/internal/domain/model"
	"telegram-course-streams/internal/domain/ports/adapter"
	"telegram-course-streams/internal/domain/ports/repository"
	"telegram-course-streams/internal/infra/i18n"
	"telegram-course-streams/internal/infra/worker"
)

// -----------------------------
// In-memory store shared by the repository mocks
// -----------------------------

type memStore struct {
	mu          sync.Mutex
	streams     map[string]*model.Stream
	lessons     map[string]model.LessonRef
	enrollments map[string]*model.Enrollment
	promos      map[string]*model.PromoCode
	usages      map[string]*model.PromoUsage // key: promoID|enrollmentID
	schedule    map[string]*model.ScheduleEntry
	deliveries  map[string]map[string]struct{} // entryID -> enrollment ids
	writes      int
}

func newMemStore() *memStore {
	return &memStore{
		streams:     make(map[string]*model.Stream),
		lessons:     make(map[string]model.LessonRef),
		enrollments: make(map[string]*model.Enrollment),
		promos:      make(map[string]*model.PromoCode),
		usages:      make(map[string]*model.PromoUsage),
		schedule:    make(map[string]*model.ScheduleEntry),
		deliveries:  make(map[string]map[string]struct{}),
	}
}

func (s *memStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) addStream(st *model.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.streams[st.ID] = &cp
}

func (s *memStore) addLesson(l model.LessonRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lessons[l.ID] = l
}

func (s *memStore) addEnrollment(e *model.Enrollment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.enrollments[e.ID] = &cp
}

func (s *memStore) addPromo(p *model.PromoCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.promos[p.ID] = &cp
}

func (s *memStore) addEntry(e *model.ScheduleEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.schedule[e.ID] = &cp
}

func (s *memStore) enrollment(id string) *model.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (s *memStore) promo(id string) *model.PromoCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.promos[id]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

func (s *memStore) entry(id string) *model.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedule[id]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

func (s *memStore) countEnrollments(streamID, identity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.enrollments {
		if e.StreamID == streamID && e.Identity == identity {
			n++
		}
	}
	return n
}

func (s *memStore) countUsages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.usages)
}

// snapshot copies the store and returns a func that restores the copy.
func (s *memStore) snapshot() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	streams := make(map[string]*model.Stream, len(s.streams))
	for k, v := range s.streams {
		cp := *v
		streams[k] = &cp
	}
	enrollments := make(map[string]*model.Enrollment, len(s.enrollments))
	for k, v := range s.enrollments {
		cp := *v
		enrollments[k] = &cp
	}
	promos := make(map[string]*model.PromoCode, len(s.promos))
	for k, v := range s.promos {
		cp := *v
		promos[k] = &cp
	}
	usages := make(map[string]*model.PromoUsage, len(s.usages))
	for k, v := range s.usages {
		usages[k] = v
	}
	schedule := make(map[string]*model.ScheduleEntry, len(s.schedule))
	for k, v := range s.schedule {
		cp := *v
		schedule[k] = &cp
	}
	writes := s.writes
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.streams, s.enrollments, s.promos, s.usages, s.schedule = streams, enrollments, promos, usages, schedule
		s.writes = writes
	}
}

// ---- StreamRepository ----

type MockStreamRepo struct {
	s *memStore

	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Stream, error)
}

var _ repository.StreamRepository = (*MockStreamRepo)(nil)

func (m *MockStreamRepo) Save(ctx context.Context, tx repository.Tx, st *model.Stream) error {
	m.s.addStream(st)
	return nil
}

func (m *MockStreamRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Stream, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, tx, id)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	st, ok := m.s.streams[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MockStreamRepo) FindByInviteToken(ctx context.Context, tx repository.Tx, token string) (*model.Stream, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, st := range m.s.streams {
		if st.InviteToken == token {
			cp := *st
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockStreamRepo) UpdateInviteToken(ctx context.Context, tx repository.Tx, id, token string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	st, ok := m.s.streams[id]
	if !ok {
		return domain.ErrNotFound
	}
	st.InviteToken = token
	m.s.writes++
	return nil
}

func (m *MockStreamRepo) UpdateSettings(ctx context.Context, tx repository.Tx, id string, scheduleEnabled, notifyOnRelease bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	st, ok := m.s.streams[id]
	if !ok {
		return domain.ErrNotFound
	}
	st.ScheduleEnabled = scheduleEnabled
	st.NotifyOnRelease = notifyOnRelease
	m.s.writes++
	return nil
}

// ---- LessonRepository ----

type MockLessonRepo struct{ s *memStore }

var _ repository.LessonRepository = (*MockLessonRepo)(nil)

func (m *MockLessonRepo) ListByCourse(ctx context.Context, tx repository.Tx, courseID string) ([]model.LessonRef, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []model.LessonRef
	for _, l := range m.s.lessons {
		if l.CourseID == courseID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockLessonRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.LessonRef, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	l, ok := m.s.lessons[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &l, nil
}

// ---- EnrollmentRepository ----

type MockEnrollmentRepo struct {
	s *memStore

	MarkActivatedFunc func(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error)
}

var _ repository.EnrollmentRepository = (*MockEnrollmentRepo)(nil)

func (m *MockEnrollmentRepo) Create(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	created, err := m.CreateIfAbsent(ctx, tx, e)
	if err != nil {
		return err
	}
	if !created {
		return domain.ErrConflict
	}
	return nil
}

func (m *MockEnrollmentRepo) CreateIfAbsent(ctx context.Context, tx repository.Tx, e *model.Enrollment) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, ex := range m.s.enrollments {
		if ex.StreamID == e.StreamID && ex.Identity == e.Identity {
			return false, nil
		}
		if ex.AccessToken == e.AccessToken {
			return false, domain.ErrConflict
		}
	}
	cp := *e
	m.s.enrollments[e.ID] = &cp
	m.s.writes++
	return true, nil
}

func (m *MockEnrollmentRepo) find(match func(e *model.Enrollment) bool) (*model.Enrollment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, e := range m.s.enrollments {
		if match(e) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockEnrollmentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Enrollment, error) {
	return m.find(func(e *model.Enrollment) bool { return e.ID == id })
}

func (m *MockEnrollmentRepo) FindByAccessToken(ctx context.Context, tx repository.Tx, token string) (*model.Enrollment, error) {
	return m.find(func(e *model.Enrollment) bool { return e.AccessToken == token })
}

func (m *MockEnrollmentRepo) FindByStreamAndIdentity(ctx context.Context, tx repository.Tx, streamID, identity string) (*model.Enrollment, error) {
	return m.find(func(e *model.Enrollment) bool { return e.StreamID == streamID && e.Identity == identity })
}

func (m *MockEnrollmentRepo) mutate(id string, fn func(e *model.Enrollment) bool) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	e, ok := m.s.enrollments[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	changed := fn(e)
	if changed {
		m.s.writes++
	}
	return changed, nil
}

func (m *MockEnrollmentRepo) MarkActivated(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	if m.MarkActivatedFunc != nil {
		return m.MarkActivatedFunc(ctx, tx, id, at)
	}
	return m.mutate(id, func(e *model.Enrollment) bool { return e.Activate(at) })
}

func (m *MockEnrollmentRepo) MarkPaid(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	return m.mutate(id, func(e *model.Enrollment) bool { return e.MarkPaid(at) })
}

func (m *MockEnrollmentRepo) SetAppliedPromo(ctx context.Context, tx repository.Tx, id, promoID string) (bool, error) {
	return m.mutate(id, func(e *model.Enrollment) bool { return e.ApplyPromo(promoID) })
}

func (m *MockEnrollmentRepo) ListEligibleRecipients(ctx context.Context, tx repository.Tx, streamID string) ([]*model.Enrollment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*model.Enrollment
	for _, e := range m.s.enrollments {
		if e.StreamID == streamID && e.CanReceiveReleaseNotifications() {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// ---- PromoRepository ----

type MockPromoRepo struct {
	s *memStore

	RecordUsageFunc func(ctx context.Context, tx repository.Tx, u *model.PromoUsage) error
}

var _ repository.PromoRepository = (*MockPromoRepo)(nil)

func (m *MockPromoRepo) Save(ctx context.Context, tx repository.Tx, p *model.PromoCode) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, ex := range m.s.promos {
		if ex.StreamID == p.StreamID && ex.Code == p.Code {
			return domain.ErrConflict
		}
	}
	cp := *p
	m.s.promos[p.ID] = &cp
	return nil
}

func (m *MockPromoRepo) FindByCode(ctx context.Context, tx repository.Tx, streamID, code string) (*model.PromoCode, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.promos {
		if p.StreamID == streamID && p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPromoRepo) UsageExists(ctx context.Context, tx repository.Tx, promoID, enrollmentID string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	_, ok := m.s.usages[promoID+"|"+enrollmentID]
	return ok, nil
}

func (m *MockPromoRepo) RecordUsage(ctx context.Context, tx repository.Tx, u *model.PromoUsage) error {
	if m.RecordUsageFunc != nil {
		return m.RecordUsageFunc(ctx, tx, u)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := u.PromoCodeID + "|" + u.EnrollmentID
	if _, ok := m.s.usages[key]; ok {
		return domain.ErrConflict
	}
	p, ok := m.s.promos[u.PromoCodeID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.UsageLimit != nil && p.UsedCount >= *p.UsageLimit {
		return domain.InvalidState(model.PromoReasonExhausted)
	}
	cp := *u
	m.s.usages[key] = &cp
	p.UsedCount++
	m.s.writes++
	return nil
}

// ---- ScheduleRepository ----

type MockScheduleRepo struct {
	s *memStore

	MarkNotificationSentFunc func(ctx context.Context, tx repository.Tx, id string) (bool, error)
}

var _ repository.ScheduleRepository = (*MockScheduleRepo)(nil)

func (m *MockScheduleRepo) ReplaceForStream(ctx context.Context, tx repository.Tx, streamID string, entries []*model.ScheduleEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for id, e := range m.s.schedule {
		if e.StreamID == streamID {
			delete(m.s.schedule, id)
		}
	}
	for _, e := range entries {
		cp := *e
		m.s.schedule[e.ID] = &cp
	}
	m.s.writes++
	return nil
}

func (m *MockScheduleRepo) FindByStreamAndLesson(ctx context.Context, tx repository.Tx, streamID, lessonID string) (*model.ScheduleEntry, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, e := range m.s.schedule {
		if e.StreamID == streamID && e.LessonID == lessonID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockScheduleRepo) list(match func(e *model.ScheduleEntry) bool, limit int) []*model.ScheduleEntry {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*model.ScheduleEntry
	for _, e := range m.s.schedule {
		if match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledOpenAt.Equal(out[j].ScheduledOpenAt) {
			return out[i].ScheduledOpenAt.Before(out[j].ScheduledOpenAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MockScheduleRepo) ListByStream(ctx context.Context, tx repository.Tx, streamID string) ([]*model.ScheduleEntry, error) {
	return m.list(func(e *model.ScheduleEntry) bool { return e.StreamID == streamID }, 0), nil
}

func (m *MockScheduleRepo) ListDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.ScheduleEntry, error) {
	return m.list(func(e *model.ScheduleEntry) bool {
		return !e.IsOpened && !e.ScheduledOpenAt.After(now)
	}, limit), nil
}

func (m *MockScheduleRepo) ListPendingNotification(ctx context.Context, tx repository.Tx, since time.Time, limit int) ([]*model.ScheduleEntry, error) {
	return m.list(func(e *model.ScheduleEntry) bool {
		st := m.s.streams[e.StreamID]
		return e.IsOpened && !e.NotificationSent && !e.ScheduledOpenAt.Before(since) && st != nil && st.NotifyOnRelease
	}, limit), nil
}

func (m *MockScheduleRepo) flip(id string, fn func(e *model.ScheduleEntry) bool) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	e, ok := m.s.schedule[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	changed := fn(e)
	if changed {
		m.s.writes++
	}
	return changed, nil
}

func (m *MockScheduleRepo) MarkOpened(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	return m.flip(id, func(e *model.ScheduleEntry) bool {
		if e.IsOpened {
			return false
		}
		e.IsOpened = true
		return true
	})
}

func (m *MockScheduleRepo) MarkNotificationSent(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	if m.MarkNotificationSentFunc != nil {
		return m.MarkNotificationSentFunc(ctx, tx, id)
	}
	return m.flip(id, func(e *model.ScheduleEntry) bool {
		if e.NotificationSent {
			return false
		}
		e.NotificationSent = true
		return true
	})
}

func (m *MockScheduleRepo) RecordDelivery(ctx context.Context, tx repository.Tx, entryID, enrollmentID string, at time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	set, ok := m.s.deliveries[entryID]
	if !ok {
		set = make(map[string]struct{})
		m.s.deliveries[entryID] = set
	}
	if _, dup := set[enrollmentID]; dup {
		return false, nil
	}
	set[enrollmentID] = struct{}{}
	return true, nil
}

func (m *MockScheduleRepo) ListDelivered(ctx context.Context, tx repository.Tx, entryID string) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	ids := make([]string, 0, len(m.s.deliveries[entryID]))
	for id := range m.s.deliveries[entryID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MockScheduleRepo) OpenAllForStream(ctx context.Context, tx repository.Tx, streamID string) ([]string, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var ids []string
	for _, e := range m.s.schedule {
		if e.StreamID == streamID && !e.IsOpened {
			e.IsOpened = true
			e.NotificationSent = true
			ids = append(ids, e.LessonID)
			m.s.writes++
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc overrides it.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// rollbackTxManager restores the store when fn fails, which is enough to observe
// all-or-nothing behavior in single-goroutine tests.
func rollbackTxManager(s *memStore) *MockTxManager {
	return &MockTxManager{
		WithTxFunc: func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
			restore := s.snapshot()
			if err := fn(ctx, repository.NoTX); err != nil {
				restore()
				return err
			}
			return nil
		},
	}
}

// =============================
// Adapters
// =============================

type sentMessage struct {
	Identity string
	Text     string
}

type MockNotifier struct {
	mu     sync.Mutex
	Sent   []sentMessage
	FailOn map[string]error // identity -> error
}

var _ adapter.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Send(ctx context.Context, identity, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailOn[identity]; ok {
		return err
	}
	m.Sent = append(m.Sent, sentMessage{Identity: identity, Text: text})
	return nil
}

func (m *MockNotifier) Messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}

func (m *MockNotifier) CountFor(identity string) int {
	n := 0
	for _, s := range m.Messages() {
		if s.Identity == identity {
			n++
		}
	}
	return n
}

// syncDispatcher runs tasks inline so tests observe their effects immediately.
type syncDispatcher struct {
	mu        sync.Mutex
	submitted int
}

func (d *syncDispatcher) Submit(task worker.Task) error {
	d.mu.Lock()
	d.submitted++
	d.mu.Unlock()
	return task(context.Background())
}

func (d *syncDispatcher) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

// -----------------------------
// Fixture
// -----------------------------

type fixture struct {
	store       *memStore
	streams     *MockStreamRepo
	lessons     *MockLessonRepo
	enrollments *MockEnrollmentRepo
	promos      *MockPromoRepo
	schedules   *MockScheduleRepo
	tm          *MockTxManager
	notifier    *MockNotifier
	dispatcher  *syncDispatcher
}

func newFixture() *fixture {
	s := newMemStore()
	return &fixture{
		store:       s,
		streams:     &MockStreamRepo{s: s},
		lessons:     &MockLessonRepo{s: s},
		enrollments: &MockEnrollmentRepo{s: s},
		promos:      &MockPromoRepo{s: s},
		schedules:   &MockScheduleRepo{s: s},
		tm:          rollbackTxManager(s),
		notifier:    &MockNotifier{},
		dispatcher:  &syncDispatcher{},
	}
}

var errSendFailed = errors.New("transport unavailable")

func ptr[T any](v T) *T { return &v }

func paidStream(id string, price int64) *model.Stream {
	return &model.Stream{
		ID:          id,
		CourseID:    "course-1",
		CreatorID:   "creator-1",
		CreatorName: "Ada",
		Title:       "Go in Practice",
		Price:       price,
		InviteToken: "SHARED-" + id,
		CreatedAt:   time.Now(),
	}
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func newTestTranslator() *i18n.Translator {
	testFS := fstest.MapFS{
		"locales/en.yaml": {Data: []byte(
			"welcome: 'welcome %s'\n" +
				"welcome_unpaid: 'reserved %s'\n" +
				"lesson_opened: 'opened %s: %s'\n" +
				"lessons_opened_all: 'opened %d in %s'\n",
		)},
	}
	tr, err := i18n.NewTranslator(testFS, "en")
	if err != nil {
		panic(err)
	}
	return tr
}
