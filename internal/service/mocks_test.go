package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cohort-program-api/internal/models"
	"github.com/noah-isme/cohort-program-api/pkg/config"
)

func testProgramConfig() config.ProgramConfig {
	return config.ProgramConfig{
		GroupCapacity:     15,
		NewGroupThreshold: 7,
		FormationDays:     map[int]int{1: 7, 2: 10, 3: 14, 4: 14, 5: 21},
		ExamWindow:        6 * time.Hour,
		VoteLead:          24 * time.Hour,
		PassingScore:      70,
		RemedialFractions: [3]float64{0.75, 0.5, 0.25},
	}
}

// newMockTx returns a sqlx handle whose transactions always succeed. The
// mocked repositories ignore the executor, so only begin/commit/rollback
// need to be satisfied.
func newMockTx(t *testing.T) *sqlx.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 64; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	return sqlx.NewDb(db, "sqlmock")
}

type mockStudents struct {
	students map[string]models.Student
}

func newMockStudents() *mockStudents {
	return &mockStudents{students: make(map[string]models.Student)}
}

func (m *mockStudents) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		copy := s
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStudents) Create(ctx context.Context, student *models.Student) error {
	if student.RegisteredAt.IsZero() {
		student.RegisteredAt = time.Now().UTC()
	}
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudents) Update(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if _, ok := m.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	m.students[student.ID] = *student
	return nil
}

func (m *mockStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	out := make([]models.Student, 0, len(m.students))
	for _, s := range m.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *mockStudents) CountInGroup(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string) (int, error) {
	count := 0
	for _, s := range m.students {
		if s.Level == level && s.GroupLabel == groupLabel && !s.Remedial && !s.Alumni {
			count++
		}
	}
	return count, nil
}

func (m *mockStudents) SetBonus(ctx context.Context, exec sqlx.ExtContext, studentID string, points int, tier models.BonusTier, periodID string) error {
	s, ok := m.students[studentID]
	if !ok {
		return sql.ErrNoRows
	}
	s.BonusPoints = points
	s.BonusTier = tier
	s.CurrentPeriodID = &periodID
	m.students[studentID] = s
	return nil
}

func (m *mockStudents) ResetBonusByPeriod(ctx context.Context, exec sqlx.ExtContext, periodID string) error {
	for id, s := range m.students {
		if s.CurrentPeriodID != nil && *s.CurrentPeriodID == periodID {
			s.BonusPoints = 0
			s.BonusTier = models.BonusTierNone
			s.HasVoted = false
			s.CurrentPeriodID = nil
			m.students[id] = s
		}
	}
	return nil
}

type mockGroups struct {
	groups   []models.Group
	students *mockStudents
	seq      int
}

func newMockGroups(students *mockStudents) *mockGroups {
	return &mockGroups{students: students}
}

func (m *mockGroups) add(level int, letter string) models.Group {
	m.seq++
	g := models.Group{ID: fmt.Sprintf("group-%d", m.seq), Level: level, Letter: letter}
	m.groups = append(m.groups, g)
	return g
}

func (m *mockGroups) ListOccupancy(ctx context.Context, exec sqlx.ExtContext, level int) ([]models.GroupOccupancy, error) {
	var out []models.GroupOccupancy
	for _, g := range m.groups {
		if g.Level != level {
			continue
		}
		count, _ := m.students.CountInGroup(ctx, exec, g.Level, g.Label())
		out = append(out, models.GroupOccupancy{Group: g, Members: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Letter < out[j].Letter })
	return out, nil
}

func (m *mockGroups) Create(ctx context.Context, exec sqlx.ExtContext, group *models.Group) error {
	m.seq++
	if group.ID == "" {
		group.ID = fmt.Sprintf("group-%d", m.seq)
	}
	m.groups = append(m.groups, *group)
	return nil
}

type mockWaiting struct {
	entries []models.WaitingListEntry
	seq     int
}

func (m *mockWaiting) Enqueue(ctx context.Context, exec sqlx.ExtContext, entry *models.WaitingListEntry) error {
	m.seq++
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("wl-%d", m.seq)
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Unix(int64(m.seq), 0)
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockWaiting) ListByKind(ctx context.Context, exec sqlx.ExtContext, level int, kind models.WaitingKind) ([]models.WaitingListEntry, error) {
	var out []models.WaitingListEntry
	for _, e := range m.entries {
		if e.Level == level && e.Kind == kind {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockWaiting) HasEntry(ctx context.Context, exec sqlx.ExtContext, studentID string, level int) (bool, error) {
	for _, e := range m.entries {
		if e.StudentID == studentID && e.Level == level {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockWaiting) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

type mockRemedial struct {
	records []models.RemedialRecord
	seq     int
}

func (m *mockRemedial) ActiveByStudent(ctx context.Context, exec sqlx.ExtContext, studentID string) (*models.RemedialRecord, error) {
	for _, r := range m.records {
		if r.StudentID == studentID && !r.Completed {
			copy := r
			return &copy, nil
		}
	}
	return nil, nil
}

func (m *mockRemedial) Create(ctx context.Context, exec sqlx.ExtContext, record *models.RemedialRecord) error {
	m.seq++
	if record.ID == "" {
		record.ID = fmt.Sprintf("rem-%d", m.seq)
	}
	m.records = append(m.records, *record)
	return nil
}

func (m *mockRemedial) Complete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	for i, r := range m.records {
		if r.ID == id {
			m.records[i].Completed = true
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockRemedial) ListDueRetries(ctx context.Context, now time.Time) ([]models.RemedialRecord, error) {
	var out []models.RemedialRecord
	for _, r := range m.records {
		if !r.Completed && !now.Before(r.RetryAt) {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockPeriods struct {
	periods []models.ExamPeriod
	seq     int
}

func (m *mockPeriods) Create(ctx context.Context, period *models.ExamPeriod) error {
	m.seq++
	if period.ID == "" {
		period.ID = fmt.Sprintf("period-%d", m.seq)
	}
	m.periods = append(m.periods, *period)
	return nil
}

func (m *mockPeriods) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ExamPeriod, error) {
	for _, p := range m.periods {
		if p.ID == id {
			copy := p
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockPeriods) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.ExamPeriod, error) {
	return m.FindByID(ctx, exec, id)
}

func (m *mockPeriods) NextForGroup(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error) {
	var best *models.ExamPeriod
	for i := range m.periods {
		p := m.periods[i]
		if p.Level != level || p.VotesClosed || p.GroupLabel == nil || *p.GroupLabel != groupLabel || !p.StartTime.After(now) {
			continue
		}
		if best == nil || p.StartTime.Before(best.StartTime) {
			copy := p
			best = &copy
		}
	}
	return best, nil
}

func (m *mockPeriods) NextShared(ctx context.Context, exec sqlx.ExtContext, level int, now time.Time) (*models.ExamPeriod, error) {
	var best *models.ExamPeriod
	for i := range m.periods {
		p := m.periods[i]
		if p.Level != level || p.VotesClosed || p.GroupLabel != nil || !p.StartTime.After(now) {
			continue
		}
		if best == nil || p.StartTime.Before(best.StartTime) {
			copy := p
			best = &copy
		}
	}
	return best, nil
}

func (m *mockPeriods) ActiveForStudent(ctx context.Context, exec sqlx.ExtContext, level int, groupLabel string, now time.Time) (*models.ExamPeriod, error) {
	var shared *models.ExamPeriod
	for i := range m.periods {
		p := m.periods[i]
		if p.Level != level || !p.Active(now) {
			continue
		}
		if p.GroupLabel != nil {
			if *p.GroupLabel == groupLabel {
				copy := p
				return &copy, nil
			}
			continue
		}
		if shared == nil {
			copy := p
			shared = &copy
		}
	}
	return shared, nil
}

func (m *mockPeriods) ListActive(ctx context.Context, now time.Time) ([]models.ExamPeriod, error) {
	var out []models.ExamPeriod
	for _, p := range m.periods {
		if p.Active(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPeriods) ListDueClose(ctx context.Context, now time.Time) ([]models.ExamPeriod, error) {
	var out []models.ExamPeriod
	for _, p := range m.periods {
		if !p.BonusesApplied && !now.Before(p.EndTime) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPeriods) MarkClosed(ctx context.Context, exec sqlx.ExtContext, id string) error {
	for i := range m.periods {
		if m.periods[i].ID == id {
			m.periods[i].VotesClosed = true
			m.periods[i].BonusesApplied = true
			return nil
		}
	}
	return sql.ErrNoRows
}

type mockVotes struct {
	votes []models.Vote
	seq   int
}

func (m *mockVotes) HasVoted(ctx context.Context, exec sqlx.ExtContext, voterID, periodID string) (bool, error) {
	for _, v := range m.votes {
		if v.VoterID == voterID && v.PeriodID == periodID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockVotes) InsertBatch(ctx context.Context, exec sqlx.ExtContext, votes []models.Vote) error {
	for _, v := range votes {
		m.seq++
		if v.ID == "" {
			v.ID = fmt.Sprintf("vote-%d", m.seq)
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Unix(int64(m.seq), 0)
		}
		m.votes = append(m.votes, v)
	}
	return nil
}

func (m *mockVotes) Tally(ctx context.Context, exec sqlx.ExtContext, periodID string) ([]models.VoteTally, error) {
	counts := make(map[string]int)
	first := make(map[string]int)
	for i, v := range m.votes {
		if v.PeriodID != periodID {
			continue
		}
		if _, seen := counts[v.RecipientID]; !seen {
			first[v.RecipientID] = i
		}
		counts[v.RecipientID]++
	}
	out := make([]models.VoteTally, 0, len(counts))
	for id, n := range counts {
		out = append(out, models.VoteTally{StudentID: id, Votes: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Votes != out[j].Votes {
			return out[i].Votes > out[j].Votes
		}
		return first[out[i].StudentID] < first[out[j].StudentID]
	})
	return out, nil
}

func (m *mockVotes) CountVoters(ctx context.Context, exec sqlx.ExtContext, periodID string) (int, error) {
	voters := make(map[string]struct{})
	for _, v := range m.votes {
		if v.PeriodID == periodID {
			voters[v.VoterID] = struct{}{}
		}
	}
	return len(voters), nil
}

type mockExams struct {
	exams   map[string]models.Exam
	results []models.ExamResult
	seq     int
}

func newMockExams() *mockExams {
	return &mockExams{exams: make(map[string]models.Exam)}
}

func (m *mockExams) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	if e, ok := m.exams[id]; ok {
		copy := e
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockExams) InsertResult(ctx context.Context, exec sqlx.ExtContext, result *models.ExamResult) error {
	m.seq++
	if result.ID == "" {
		result.ID = fmt.Sprintf("result-%d", m.seq)
	}
	m.results = append(m.results, *result)
	return nil
}

func (m *mockExams) ListResultsInWindow(ctx context.Context, exec sqlx.ExtContext, level int, start, end time.Time) ([]models.ExamResult, error) {
	var out []models.ExamResult
	for _, r := range m.results {
		if r.Level == level && !r.TakenAt.Before(start) && r.TakenAt.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

type mockReviews struct {
	states map[string]models.ReviewState
}

func newMockReviews() *mockReviews {
	return &mockReviews{states: make(map[string]models.ReviewState)}
}

func reviewKey(studentID, questionID string) string {
	return studentID + "|" + questionID
}

func (m *mockReviews) Get(ctx context.Context, studentID, questionID string) (*models.ReviewState, error) {
	if s, ok := m.states[reviewKey(studentID, questionID)]; ok {
		copy := s
		return &copy, nil
	}
	return nil, nil
}

func (m *mockReviews) Upsert(ctx context.Context, state *models.ReviewState) error {
	m.states[reviewKey(state.StudentID, state.QuestionID)] = *state
	return nil
}

func (m *mockReviews) Delete(ctx context.Context, studentID, questionID string) error {
	delete(m.states, reviewKey(studentID, questionID))
	return nil
}

func (m *mockReviews) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReviewState, error) {
	var out []models.ReviewState
	for _, s := range m.states {
		if s.Due(now) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDue.Before(out[j].NextDue) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeRedis implements the delivery-store slice of redis in memory.
type fakeRedis struct {
	strings map[string]string
	lists   map[string][]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{strings: make(map[string]string), lists: make(map[string][]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if _, ok := f.strings[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.strings[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if v, ok := f.strings[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := f.strings[key]; ok {
			delete(f.strings, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) LPop(ctx context.Context, key string) *redis.StringCmd {
	list := f.lists[key]
	if len(list) == 0 {
		return redis.NewStringResult("", redis.Nil)
	}
	head := list[0]
	f.lists[key] = list[1:]
	return redis.NewStringResult(head, nil)
}

func (f *fakeRedis) LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	needle := fmt.Sprint(value)
	var kept []string
	var removed int64
	for _, v := range f.lists[key] {
		if v == needle {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	f.lists[key] = kept
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		f.lists[key] = append(f.lists[key], fmt.Sprint(v))
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

// recordingNotifier captures emitted events for assertions.
type recordingNotifier struct {
	events []models.Event
}

func (n *recordingNotifier) Emit(event models.Event) {
	n.events = append(n.events, event)
}

func (n *recordingNotifier) byType(t models.EventType) []models.Event {
	var out []models.Event
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
