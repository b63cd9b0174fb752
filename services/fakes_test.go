package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bracketforge/tournament-engine/events"
	"github.com/bracketforge/tournament-engine/models"
	"github.com/bracketforge/tournament-engine/repositories"
)

// memStore backs the in-memory repository fakes. It mimics the database
// semantics the services rely on: versioned match updates, status-guarded
// transitions, and the round-cursor compare-and-swap.
type memStore struct {
	mu           sync.Mutex
	nextID       int
	tournaments  map[int]*models.Tournament
	participants map[int]*models.Participant
	matches      map[int]*models.Match
	matchTouched map[int]time.Time
	results      []*models.MatchResult
	standings    map[int]map[int]*models.TournamentStanding
}

func newMemStore() *memStore {
	return &memStore{
		tournaments:  make(map[int]*models.Tournament),
		participants: make(map[int]*models.Participant),
		matches:      make(map[int]*models.Match),
		matchTouched: make(map[int]time.Time),
		standings:    make(map[int]map[int]*models.TournamentStanding),
	}
}

func (s *memStore) id() int {
	s.nextID++
	return s.nextID
}

func cloneTournament(t *models.Tournament) *models.Tournament {
	c := *t
	return &c
}

func cloneParticipant(p *models.Participant) *models.Participant {
	c := *p
	return &c
}

func cloneMatch(m *models.Match) *models.Match {
	c := *m
	return &c
}

func cloneResult(r *models.MatchResult) *models.MatchResult {
	c := *r
	return &c
}

// memTxManager runs the function directly; the fakes are already atomic per
// operation, which is enough for the guard semantics under test.
type memTxManager struct{}

func (memTxManager) WithTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

type memTournamentRepo struct{ store *memStore }

func (r *memTournamentRepo) Create(ctx context.Context, t *models.Tournament) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.tournaments {
		if existing.OrganizerID == t.OrganizerID && existing.Name == t.Name {
			return repositories.ErrTournamentNameConflict
		}
	}
	t.ID = r.store.id()
	t.CreatedAt = time.Now()
	r.store.tournaments[t.ID] = cloneTournament(t)
	return nil
}

func (r *memTournamentRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Tournament, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	return cloneTournament(t), nil
}

func (r *memTournamentRepo) List(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]models.Tournament, 0)
	for _, t := range r.store.tournaments {
		if filter.OrganizerID != nil && t.OrganizerID != *filter.OrganizerID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		if filter.Format != nil && t.Format != *filter.Format {
			continue
		}
		out = append(out, *cloneTournament(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memTournamentRepo) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, fromStatus, toStatus models.TournamentStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tournaments[id]
	if !ok || t.Status != fromStatus {
		return repositories.ErrTournamentStateConflict
	}
	t.Status = toStatus
	return nil
}

func (r *memTournamentRepo) AdvanceRoundCursor(ctx context.Context, exec repositories.SQLExecutor, id int, fromRound, toRound int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tournaments[id]
	if !ok || t.RoundCursor != fromRound {
		return repositories.ErrRoundCursorConflict
	}
	t.RoundCursor = toRound
	return nil
}

func (r *memTournamentRepo) SetTotalRounds(ctx context.Context, exec repositories.SQLExecutor, id int, totalRounds int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	t.TotalRounds = totalRounds
	return nil
}

func (r *memTournamentRepo) SetWinner(ctx context.Context, exec repositories.SQLExecutor, id int, winnerParticipantID *int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	t, ok := r.store.tournaments[id]
	if !ok {
		return repositories.ErrTournamentNotFound
	}
	t.WinnerParticipantID = winnerParticipantID
	return nil
}

type memParticipantRepo struct{ store *memStore }

func (r *memParticipantRepo) Create(ctx context.Context, exec repositories.SQLExecutor, p *models.Participant) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.participants {
		if existing.TournamentID == p.TournamentID && existing.EntrantID == p.EntrantID {
			return repositories.ErrParticipantAlreadyRegistered
		}
	}
	p.ID = r.store.id()
	p.CreatedAt = time.Now()
	r.store.participants[p.ID] = cloneParticipant(p)
	return nil
}

func (r *memParticipantRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Participant, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.participants[id]
	if !ok {
		return nil, repositories.ErrParticipantNotFound
	}
	return cloneParticipant(p), nil
}

func (r *memParticipantRepo) GetByEntrant(ctx context.Context, exec repositories.SQLExecutor, tournamentID, entrantID int) (*models.Participant, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, p := range r.store.participants {
		if p.TournamentID == tournamentID && p.EntrantID == entrantID {
			return cloneParticipant(p), nil
		}
	}
	return nil, repositories.ErrParticipantNotFound
}

func (r *memParticipantRepo) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int, status *models.ParticipantStatus) ([]*models.Participant, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*models.Participant, 0)
	for _, p := range r.store.participants {
		if p.TournamentID != tournamentID {
			continue
		}
		if status != nil && p.Status != *status {
			continue
		}
		out = append(out, cloneParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := out[i].Seed, out[j].Seed
		switch {
		case si != nil && sj != nil && *si != *sj:
			return *si < *sj
		case si != nil && sj == nil:
			return true
		case si == nil && sj != nil:
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memParticipantRepo) UpdateSeed(ctx context.Context, exec repositories.SQLExecutor, id int, seed int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.participants[id]
	if !ok {
		return repositories.ErrParticipantNotFound
	}
	p.Seed = &seed
	return nil
}

func (r *memParticipantRepo) MarkWithdrawn(ctx context.Context, exec repositories.SQLExecutor, id int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	p, ok := r.store.participants[id]
	if !ok || p.Status != models.ParticipantRegistered {
		return repositories.ErrParticipantStateConflict
	}
	p.Status = models.ParticipantWithdrawn
	return nil
}

type memMatchRepo struct{ store *memStore }

func (r *memMatchRepo) Create(ctx context.Context, exec repositories.SQLExecutor, m *models.Match) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m.ID = r.store.id()
	m.Version = 1
	m.CreatedAt = time.Now()
	r.store.matches[m.ID] = cloneMatch(m)
	r.store.matchTouched[m.ID] = m.CreatedAt
	return nil
}

func (r *memMatchRepo) GetByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Match, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m, ok := r.store.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	return cloneMatch(m), nil
}

func (r *memMatchRepo) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int, filter repositories.ListMatchesFilter) ([]*models.Match, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*models.Match, 0)
	for _, m := range r.store.matches {
		if m.TournamentID != tournamentID {
			continue
		}
		if filter.Round != nil && m.Round != *filter.Round {
			continue
		}
		if filter.Status != nil && m.Status != *filter.Status {
			continue
		}
		if filter.Side != nil && m.Side != *filter.Side {
			continue
		}
		out = append(out, cloneMatch(m))
	}
	sortMatches(out)
	return out, nil
}

func (r *memMatchRepo) ListOpenByParticipant(ctx context.Context, exec repositories.SQLExecutor, tournamentID, participantID int) ([]*models.Match, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*models.Match, 0)
	for _, m := range r.store.matches {
		if m.TournamentID != tournamentID || m.Status.IsTerminal() {
			continue
		}
		if m.SlotOf(participantID) == 0 {
			continue
		}
		out = append(out, cloneMatch(m))
	}
	sortMatches(out)
	return out, nil
}

func sortMatches(matches []*models.Match) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		if a.OrderInRound != b.OrderInRound {
			return a.OrderInRound < b.OrderInRound
		}
		return a.ID < b.ID
	})
}

func (r *memMatchRepo) UpdateNextMatchInfo(ctx context.Context, exec repositories.SQLExecutor, id int, winnerNextID, winnerNextSlot, loserNextID, loserNextSlot *int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	m, ok := r.store.matches[id]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	m.WinnerNextMatchID = winnerNextID
	m.WinnerNextSlot = winnerNextSlot
	m.LoserNextMatchID = loserNextID
	m.LoserNextSlot = loserNextSlot
	return nil
}

func (r *memMatchRepo) UpdateSlots(ctx context.Context, exec repositories.SQLExecutor, m *models.Match) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.matches[m.ID]
	if !ok || stored.Version != m.Version {
		return repositories.ErrMatchVersionConflict
	}
	stored.Slot1ParticipantID = m.Slot1ParticipantID
	stored.Slot2ParticipantID = m.Slot2ParticipantID
	stored.Slot1Bye = m.Slot1Bye
	stored.Slot2Bye = m.Slot2Bye
	stored.Status = m.Status
	stored.WinnerParticipantID = m.WinnerParticipantID
	stored.Version++
	m.Version++
	r.store.matchTouched[m.ID] = time.Now()
	return nil
}

func (r *memMatchRepo) UpdateState(ctx context.Context, exec repositories.SQLExecutor, id, expectedVersion int, status models.MatchStatus, winnerParticipantID *int, score *string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.matches[id]
	if !ok || stored.Version != expectedVersion {
		return repositories.ErrMatchVersionConflict
	}
	stored.Status = status
	stored.WinnerParticipantID = winnerParticipantID
	stored.Score = score
	stored.Version++
	r.store.matchTouched[id] = time.Now()
	return nil
}

func (r *memMatchRepo) BindSession(ctx context.Context, exec repositories.SQLExecutor, id, expectedVersion int, sessionRef string, boundAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.matches[id]
	if !ok || stored.Version != expectedVersion || stored.SessionRef != nil {
		return repositories.ErrMatchVersionConflict
	}
	stored.SessionRef = &sessionRef
	stored.SessionBoundAt = &boundAt
	stored.Version++
	r.store.matchTouched[id] = time.Now()
	return nil
}

func (r *memMatchRepo) ListAwaitingConfirmationBefore(ctx context.Context, exec repositories.SQLExecutor, cutoff time.Time) ([]*models.Match, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*models.Match, 0)
	for _, m := range r.store.matches {
		if m.Status != models.MatchAwaitingConfirmation {
			continue
		}
		if r.store.matchTouched[m.ID].After(cutoff) {
			continue
		}
		out = append(out, cloneMatch(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memResultRepo struct{ store *memStore }

func (r *memResultRepo) Create(ctx context.Context, exec repositories.SQLExecutor, res *models.MatchResult) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.matches[res.MatchID]; !ok {
		return repositories.ErrResultInvalidMatch
	}
	res.ID = r.store.id()
	res.CreatedAt = time.Now()
	r.store.results = append(r.store.results, cloneResult(res))
	return nil
}

func (r *memResultRepo) GetLatestByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) (*models.MatchResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for i := len(r.store.results) - 1; i >= 0; i-- {
		if r.store.results[i].MatchID == matchID {
			return cloneResult(r.store.results[i]), nil
		}
	}
	return nil, repositories.ErrResultNotFound
}

func (r *memResultRepo) ListByMatch(ctx context.Context, exec repositories.SQLExecutor, matchID int) ([]*models.MatchResult, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*models.MatchResult, 0)
	for _, res := range r.store.results {
		if res.MatchID == matchID {
			out = append(out, cloneResult(res))
		}
	}
	return out, nil
}

func (r *memResultRepo) Confirm(ctx context.Context, exec repositories.SQLExecutor, id int, confirmedBy *int, confirmedAt time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, res := range r.store.results {
		if res.ID == id {
			if res.Confirmed {
				return repositories.ErrResultNotFound
			}
			res.Confirmed = true
			res.ConfirmedBy = confirmedBy
			at := confirmedAt
			res.ConfirmedAt = &at
			return nil
		}
	}
	return repositories.ErrResultNotFound
}

type memStandingRepo struct{ store *memStore }

func (r *memStandingRepo) Upsert(ctx context.Context, exec repositories.SQLExecutor, s *models.TournamentStanding) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rows := r.store.standings[s.TournamentID]
	if rows == nil {
		rows = make(map[int]*models.TournamentStanding)
		r.store.standings[s.TournamentID] = rows
	}
	if existing, ok := rows[s.ParticipantID]; ok {
		s.ID = existing.ID
	} else {
		s.ID = r.store.id()
	}
	s.UpdatedAt = time.Now()
	copied := *s
	rows[s.ParticipantID] = &copied
	return nil
}

func (r *memStandingRepo) ListByTournament(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]*models.TournamentStanding, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]*models.TournamentStanding, 0)
	for _, s := range r.store.standings[tournamentID] {
		copied := *s
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

// chainPublisher records every settled event and, when a handler is attached,
// dispatches it synchronously. Wiring the advancer as the handler reproduces
// the production event loop inside a single test goroutine.
type chainPublisher struct {
	mu      sync.Mutex
	events  []events.MatchSettled
	handler func(ctx context.Context, event events.MatchSettled) error
}

func (p *chainPublisher) PublishMatchSettled(ctx context.Context, event events.MatchSettled) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	handler := p.handler
	p.mu.Unlock()
	if handler != nil {
		return handler(ctx, event)
	}
	return nil
}

func (p *chainPublisher) published() []events.MatchSettled {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.MatchSettled, len(p.events))
	copy(out, p.events)
	return out
}

type recordingNotifier struct {
	mu         sync.Mutex
	ready      []int // match IDs reported as playable
	matches    []int // match IDs reported as updated
	rounds     []int
	completed  []int // tournament IDs
	cancelled  []int
	lastWinner *int
}

func (n *recordingNotifier) MatchReady(tournamentID int, match *models.Match) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, match.ID)
}

func (n *recordingNotifier) MatchUpdated(tournamentID int, match *models.Match) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.matches = append(n.matches, match.ID)
}

func (n *recordingNotifier) RoundAdvanced(tournamentID, round int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rounds = append(n.rounds, round)
}

func (n *recordingNotifier) TournamentCompleted(tournamentID int, winnerParticipantID *int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, tournamentID)
	n.lastWinner = winnerParticipantID
}

func (n *recordingNotifier) TournamentCancelled(tournamentID int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, tournamentID)
}

// fixture wires the full service graph over the in-memory store. The
// publisher feeds the advancer synchronously, so settlement cascades finish
// before the triggering call returns.
type fixture struct {
	store           *memStore
	tournamentRepo  *memTournamentRepo
	participantRepo *memParticipantRepo
	matchRepo       *memMatchRepo
	resultRepo      *memResultRepo
	standingRepo    *memStandingRepo
	publisher       *chainPublisher
	notifier        *recordingNotifier
	matchService    *MatchService
	registry        *RegistryService
	tournaments     *TournamentService
	advancer        *AdvancerService
	sessions        *SessionService
}

func newFixture() *fixture {
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		store:           store,
		tournamentRepo:  &memTournamentRepo{store: store},
		participantRepo: &memParticipantRepo{store: store},
		matchRepo:       &memMatchRepo{store: store},
		resultRepo:      &memResultRepo{store: store},
		standingRepo:    &memStandingRepo{store: store},
		publisher:       &chainPublisher{},
		notifier:        &recordingNotifier{},
	}

	tx := memTxManager{}
	f.matchService = NewMatchService(
		f.matchRepo, f.resultRepo, f.tournamentRepo, f.participantRepo, tx, f.publisher, logger)
	f.registry = NewRegistryService(
		f.participantRepo, f.tournamentRepo, f.matchRepo, f.matchService, tx, logger)
	f.tournaments = NewTournamentService(
		f.tournamentRepo, f.participantRepo, f.matchRepo, f.resultRepo, f.standingRepo,
		tx, f.registry, f.publisher, f.notifier, nil, logger)
	f.advancer = NewAdvancerService(
		f.matchRepo, f.tournamentRepo, f.participantRepo, f.standingRepo,
		tx, f.matchService, f.notifier, nil, logger)
	f.sessions = NewSessionService(f.matchRepo, LocalSessionCreator{}, logger)

	f.publisher.handler = f.advancer.HandleMatchSettled
	return f
}

const organizerUser = 1000

// Names must stay unique per organizer, and many tests seed more than one
// tournament for organizerUser.
var seedNameSeq atomic.Int64

// seedTournament creates a tournament directly in the store with the given
// status, bypassing the lifecycle for tests that start mid-flight.
func (f *fixture) seedTournament(format models.TournamentFormat, status models.TournamentStatus, autoConfirm bool) *models.Tournament {
	t := &models.Tournament{
		Name:            fmt.Sprintf("Test Cup %d", seedNameSeq.Add(1)),
		OrganizerID:     organizerUser,
		Format:          format,
		SeedingStrategy: models.SeedingByRank,
		AutoConfirm:     autoConfirm,
		MinParticipants: 2,
		Status:          status,
	}
	if err := f.tournamentRepo.Create(context.Background(), t); err != nil {
		panic(err)
	}
	return t
}

// enroll registers n participants with seeds 1..n and entrant IDs 101..100+n.
func (f *fixture) enroll(t *models.Tournament, n int) []*models.Participant {
	participants := make([]*models.Participant, 0, n)
	for i := 1; i <= n; i++ {
		seed := i
		p := &models.Participant{
			TournamentID: t.ID,
			EntrantID:    100 + i,
			Seed:         &seed,
			Status:       models.ParticipantRegistered,
		}
		if err := f.participantRepo.Create(context.Background(), nil, p); err != nil {
			panic(err)
		}
		participants = append(participants, p)
	}
	return participants
}

// startTournament drives a seeded registration_open tournament through Start.
func (f *fixture) startTournament(format models.TournamentFormat, n int, autoConfirm bool) (*models.Tournament, []*models.Participant, error) {
	t := f.seedTournament(format, models.StatusRegistrationOpen, autoConfirm)
	participants := f.enroll(t, n)
	started, err := f.tournaments.Start(context.Background(), t.ID, organizerUser)
	if err != nil {
		return nil, nil, err
	}
	return started, participants, nil
}

// matchBetween finds the match whose slots hold both participants. The same
// pair can meet more than once (winners final and grand final), so open
// matches win over settled ones.
func (f *fixture) matchBetween(tournamentID, a, b int) *models.Match {
	matches, err := f.matchRepo.ListByTournament(context.Background(), nil, tournamentID, repositories.ListMatchesFilter{})
	if err != nil {
		panic(err)
	}
	var settled *models.Match
	for _, m := range matches {
		if a == b || m.SlotOf(a) == 0 || m.SlotOf(b) == 0 {
			continue
		}
		if !m.Status.IsTerminal() {
			return m
		}
		if settled == nil {
			settled = m
		}
	}
	return settled
}
