package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/TLC405/morganisthebest/internal/checkin"
	"github.com/TLC405/morganisthebest/internal/conversation"
	"github.com/TLC405/morganisthebest/internal/wave"
)

const eventID = "E123"

type fixture struct {
	engine        *Engine
	checkIns      *checkin.InMemoryRepository
	waves         *wave.InMemoryRepository
	conversations *conversation.InMemoryRepository
	publisher     *recordingPublisher
	metrics       *Metrics
}

func newFixture(t *testing.T, convRepo conversation.Repository) *fixture {
	t.Helper()

	f := &fixture{
		checkIns:      checkin.NewInMemoryRepository(),
		waves:         wave.NewInMemoryRepository(),
		conversations: conversation.NewInMemoryRepository(),
		publisher:     &recordingPublisher{},
		metrics:       NewMetrics(),
	}
	if convRepo == nil {
		convRepo = f.conversations
	}
	f.engine = NewEngine(f.checkIns, f.waves, convRepo, EngineConfig{
		ProvisionAttempts:        3,
		ProvisionInitialInterval: time.Millisecond,
		ProvisionMaxInterval:     2 * time.Millisecond,
		Publisher:                f.publisher,
		Metrics:                  f.metrics,
	})
	return f
}

func (f *fixture) checkIn(t *testing.T, participantID, pin string) {
	t.Helper()
	err := f.checkIns.InsertCheckIn(context.Background(), &checkin.CheckIn{
		ParticipantID: participantID,
		EventID:       eventID,
		PIN:           pin,
	})
	if err != nil {
		t.Fatalf("InsertCheckIn(%s) error = %v", participantID, err)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]MatchEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, participantID string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]MatchEvent)
	}
	if evt, ok := event.(MatchEvent); ok {
		p.events[participantID] = append(p.events[participantID], evt)
	}
	return p.err
}

func (p *recordingPublisher) count(participantID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[participantID])
}

// flakyConversations fails Upsert while failures > 0.
type flakyConversations struct {
	conversation.Repository
	mu       sync.Mutex
	failures int
	calls    int
}

var errStoreDown = errors.New("store unavailable")

func (f *flakyConversations) Upsert(ctx context.Context, pair conversation.Pair, originEventID string) (*conversation.Conversation, bool, error) {
	f.mu.Lock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		f.mu.Unlock()
		return nil, false, errStoreDown
	}
	f.mu.Unlock()
	return f.Repository.Upsert(ctx, pair, originEventID)
}

func (f *flakyConversations) setFailures(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

func TestRecordWave_MutualMatchScenario(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")

	first, err := f.engine.RecordWave(ctx, "A", eventID, "9310")
	if err != nil {
		t.Fatalf("A->B RecordWave() error = %v", err)
	}
	if first.Outcome != OutcomeRecorded || first.Mutual || first.ConversationID != "" {
		t.Fatalf("A->B = %+v, want recorded and not mutual", first)
	}

	second, err := f.engine.RecordWave(ctx, "B", eventID, "4821")
	if err != nil {
		t.Fatalf("B->A RecordWave() error = %v", err)
	}
	if second.Outcome != OutcomeRecorded || !second.Mutual || second.ConversationID == "" {
		t.Fatalf("B->A = %+v, want recorded, mutual, with conversation", second)
	}

	third, err := f.engine.RecordWave(ctx, "A", eventID, "9310")
	if err != nil {
		t.Fatalf("repeat A->B RecordWave() error = %v", err)
	}
	if third.Outcome != OutcomeAlreadySent || !third.Mutual {
		t.Fatalf("repeat A->B = %+v, want already_sent and mutual", third)
	}
	if third.ConversationID != second.ConversationID {
		t.Errorf("repeat conversation = %q, want %q", third.ConversationID, second.ConversationID)
	}

	for _, key := range []wave.Key{
		{FromID: "A", ToID: "B", EventID: eventID},
		{FromID: "B", ToID: "A", EventID: eventID},
	} {
		w, err := f.waves.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%s) error = %v", key, err)
		}
		if w.Status != wave.StatusAccepted {
			t.Errorf("wave %s status = %s, want accepted", key, w.Status)
		}
	}

	if n := f.conversations.Count(); n != 1 {
		t.Errorf("conversation count = %d, want 1", n)
	}
	if f.publisher.count("A") != 1 || f.publisher.count("B") != 1 {
		t.Errorf("expected one match event per participant, got A=%d B=%d",
			f.publisher.count("A"), f.publisher.count("B"))
	}
}

func TestRecordWave_Errors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")

	tests := []struct {
		name    string
		fromID  string
		pin     string
		want    Outcome
		wantErr error
	}{
		{name: "unknown pin", fromID: "A", pin: "0000", want: OutcomeNotFound},
		{name: "sender not checked in", fromID: "C", pin: "9310", wantErr: ErrNotCheckedIn},
		{name: "own pin", fromID: "A", pin: "4821", wantErr: ErrSelfWaveRejected},
		{name: "malformed pin", fromID: "A", pin: "93x0", wantErr: ErrInvalidPIN},
		{name: "too short", fromID: "A", pin: "93", wantErr: ErrInvalidPIN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.engine.RecordWave(ctx, tt.fromID, eventID, tt.pin)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("RecordWave() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RecordWave() unexpected error: %v", err)
			}
			if res.Outcome != tt.want || res.Mutual {
				t.Errorf("RecordWave() = %+v, want %s", res, tt.want)
			}
		})
	}

	if n := f.waves.Count(); n != 0 {
		t.Errorf("wave count = %d, want 0 after rejected waves", n)
	}
}

func TestRecordWave_PINScopedToEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")

	// B holds 9310 at a different event only.
	if err := f.checkIns.InsertCheckIn(ctx, &checkin.CheckIn{ParticipantID: "B", EventID: "E999", PIN: "9310"}); err != nil {
		t.Fatalf("InsertCheckIn() error = %v", err)
	}

	res, err := f.engine.RecordWave(ctx, "A", eventID, "9310")
	if err != nil {
		t.Fatalf("RecordWave() error = %v", err)
	}
	if res.Outcome != OutcomeNotFound {
		t.Errorf("RecordWave() outcome = %s, want not_found", res.Outcome)
	}
}

func TestRecordWave_ConcurrentMutualCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")

	const rounds = 20
	var wg sync.WaitGroup
	results := make([]*WaveResult, 2*rounds)
	errs := make([]error, 2*rounds)

	start := make(chan struct{})
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.engine.RecordWave(ctx, "A", eventID, "9310")
		}(i)
		go func(i int) {
			defer wg.Done()
			<-start
			results[rounds+i], errs[rounds+i] = f.engine.RecordWave(ctx, "B", eventID, "4821")
		}(i)
	}
	close(start)
	wg.Wait()

	var convID string
	recorded := 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d error = %v", i, err)
		}
		res := results[i]
		if res.Outcome == OutcomeRecorded {
			recorded++
		}
		if !res.Mutual {
			continue
		}
		if convID == "" {
			convID = res.ConversationID
		} else if res.ConversationID != convID {
			t.Fatalf("request %d reported conversation %q, others %q", i, res.ConversationID, convID)
		}
	}

	if convID == "" {
		t.Fatal("expected at least one request to report the mutual match")
	}
	if recorded != 2 {
		t.Errorf("recorded outcomes = %d, want 2 (one per direction)", recorded)
	}
	if n := f.waves.Count(); n != 2 {
		t.Errorf("wave count = %d, want 2", n)
	}
	if n := f.conversations.Count(); n != 1 {
		t.Errorf("conversation count = %d, want 1", n)
	}
	if f.publisher.count("A") != 1 {
		t.Errorf("match events for A = %d, want 1", f.publisher.count("A"))
	}
}

func TestRecordWave_NoFalseNegativeOnProvisionFailure(t *testing.T) {
	flaky := &flakyConversations{Repository: conversation.NewInMemoryRepository(), failures: -1}
	f := newFixture(t, flaky)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")

	if _, err := f.engine.RecordWave(ctx, "A", eventID, "9310"); err != nil {
		t.Fatalf("A->B RecordWave() error = %v", err)
	}

	res, err := f.engine.RecordWave(ctx, "B", eventID, "4821")
	if !errors.Is(err, ErrMatchIncomplete) {
		t.Fatalf("B->A RecordWave() = %+v, %v; want ErrMatchIncomplete", res, err)
	}
	if res != nil {
		t.Errorf("expected no result alongside ErrMatchIncomplete, got %+v", res)
	}
	if flaky.calls != 3 {
		t.Errorf("upsert attempts = %d, want 3", flaky.calls)
	}
	if got := getCounterValue(t, f.metrics.provisionFailures); got != 1 {
		t.Errorf("provision failures = %v, want 1", got)
	}

	// The store recovers and B retries: the existing waves complete the match.
	flaky.setFailures(0)
	retry, err := f.engine.RecordWave(ctx, "B", eventID, "4821")
	if err != nil {
		t.Fatalf("retry RecordWave() error = %v", err)
	}
	if retry.Outcome != OutcomeAlreadySent || !retry.Mutual || retry.ConversationID == "" {
		t.Errorf("retry = %+v, want already_sent, mutual, with conversation", retry)
	}
}

func TestRecordWave_TransientProvisionFailureRetried(t *testing.T) {
	flaky := &flakyConversations{Repository: conversation.NewInMemoryRepository(), failures: 2}
	f := newFixture(t, flaky)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")

	if _, err := f.engine.RecordWave(ctx, "A", eventID, "9310"); err != nil {
		t.Fatalf("A->B RecordWave() error = %v", err)
	}
	res, err := f.engine.RecordWave(ctx, "B", eventID, "4821")
	if err != nil {
		t.Fatalf("B->A RecordWave() error = %v", err)
	}
	if !res.Mutual || res.ConversationID == "" {
		t.Errorf("B->A = %+v, want mutual after retries", res)
	}
	if flaky.calls != 3 {
		t.Errorf("upsert attempts = %d, want 3", flaky.calls)
	}
}

func TestRecordWave_ReusesExistingConversation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	pair, _ := conversation.NewPair("A", "B")
	earlier, _, err := f.conversations.Upsert(ctx, pair, "E001")
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")
	if _, err := f.engine.RecordWave(ctx, "A", eventID, "9310"); err != nil {
		t.Fatalf("A->B RecordWave() error = %v", err)
	}
	res, err := f.engine.RecordWave(ctx, "B", eventID, "4821")
	if err != nil {
		t.Fatalf("B->A RecordWave() error = %v", err)
	}
	if !res.Mutual || res.ConversationID != earlier.ID {
		t.Errorf("B->A = %+v, want mutual reusing %s", res, earlier.ID)
	}
	if f.publisher.count("A") != 0 {
		t.Errorf("expected no match event for a reused conversation, got %d", f.publisher.count("A"))
	}
}

func TestDeclineWave(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")
	f.checkIn(t, "C", "5555")

	if _, err := f.engine.RecordWave(ctx, "A", eventID, "9310"); err != nil {
		t.Fatalf("A->B RecordWave() error = %v", err)
	}

	t.Run("no incoming wave", func(t *testing.T) {
		res, err := f.engine.DeclineWave(ctx, "B", eventID, "5555")
		if err != nil {
			t.Fatalf("DeclineWave() error = %v", err)
		}
		if res.Outcome != OutcomeNotFound {
			t.Errorf("DeclineWave() outcome = %s, want not_found", res.Outcome)
		}
	})

	t.Run("declines pending wave", func(t *testing.T) {
		res, err := f.engine.DeclineWave(ctx, "B", eventID, "4821")
		if err != nil {
			t.Fatalf("DeclineWave() error = %v", err)
		}
		if res.Outcome != OutcomeDeclined {
			t.Errorf("DeclineWave() outcome = %s, want declined", res.Outcome)
		}
	})

	t.Run("declining twice is idempotent", func(t *testing.T) {
		res, err := f.engine.DeclineWave(ctx, "B", eventID, "4821")
		if err != nil {
			t.Fatalf("DeclineWave() error = %v", err)
		}
		if res.Outcome != OutcomeDeclined {
			t.Errorf("DeclineWave() outcome = %s, want declined", res.Outcome)
		}
	})

	t.Run("declined wave does not count toward a match", func(t *testing.T) {
		res, err := f.engine.RecordWave(ctx, "B", eventID, "4821")
		if err != nil {
			t.Fatalf("B->A RecordWave() error = %v", err)
		}
		if res.Outcome != OutcomeRecorded || res.Mutual {
			t.Errorf("B->A = %+v, want recorded and not mutual", res)
		}
		if n := f.conversations.Count(); n != 0 {
			t.Errorf("conversation count = %d, want 0", n)
		}
	})

	t.Run("accepted wave cannot be declined", func(t *testing.T) {
		f.checkIn(t, "D", "6666")
		if _, err := f.engine.RecordWave(ctx, "C", eventID, "6666"); err != nil {
			t.Fatalf("C->D error = %v", err)
		}
		if _, err := f.engine.RecordWave(ctx, "D", eventID, "5555"); err != nil {
			t.Fatalf("D->C error = %v", err)
		}
		_, err := f.engine.DeclineWave(ctx, "D", eventID, "5555")
		if !errors.Is(err, wave.ErrInvalidTransition) {
			t.Errorf("DeclineWave() error = %v, want wave.ErrInvalidTransition", err)
		}
	})

	t.Run("caller not checked in", func(t *testing.T) {
		_, err := f.engine.DeclineWave(ctx, "Z", eventID, "4821")
		if !errors.Is(err, ErrNotCheckedIn) {
			t.Errorf("DeclineWave() error = %v, want ErrNotCheckedIn", err)
		}
	})
}

func TestRecordWave_PublisherFailureDoesNotFailMatch(t *testing.T) {
	f := newFixture(t, nil)
	f.publisher.err = errors.New("feed offline")
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")

	if _, err := f.engine.RecordWave(ctx, "A", eventID, "9310"); err != nil {
		t.Fatalf("A->B RecordWave() error = %v", err)
	}
	res, err := f.engine.RecordWave(ctx, "B", eventID, "4821")
	if err != nil {
		t.Fatalf("B->A RecordWave() error = %v", err)
	}
	if !res.Mutual {
		t.Error("expected mutual match despite publisher failure")
	}
}

func TestRecordWave_EndedConversationStaysEnded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")

	if _, err := f.engine.RecordWave(ctx, "A", eventID, "9310"); err != nil {
		t.Fatalf("A->B RecordWave() error = %v", err)
	}
	matched, err := f.engine.RecordWave(ctx, "B", eventID, "4821")
	if err != nil || !matched.Mutual {
		t.Fatalf("B->A = %+v, %v; want mutual", matched, err)
	}
	if err := f.conversations.End(ctx, matched.ConversationID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	for _, tt := range []struct{ from, pin string }{{"A", "9310"}, {"B", "4821"}} {
		res, err := f.engine.RecordWave(ctx, tt.from, eventID, tt.pin)
		if err != nil {
			t.Fatalf("repeat %s RecordWave() error = %v", tt.from, err)
		}
		if res.Outcome != OutcomeAlreadySent || !res.Mutual || res.ConversationID != matched.ConversationID {
			t.Errorf("repeat %s = %+v, want already_sent and mutual on %s", tt.from, res, matched.ConversationID)
		}
	}

	if n := f.conversations.Count(); n != 1 {
		t.Errorf("conversation count = %d, want 1", n)
	}
	conv, err := f.conversations.GetByID(ctx, matched.ConversationID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if conv.Status != conversation.StatusEnded {
		t.Errorf("conversation status = %s, want ended", conv.Status)
	}
	if f.publisher.count("A") != 1 || f.publisher.count("B") != 1 {
		t.Errorf("match events A=%d B=%d, want 1 each", f.publisher.count("A"), f.publisher.count("B"))
	}
}

func TestRecordWave_SettledMatchSkipsUpsert(t *testing.T) {
	counting := &flakyConversations{Repository: conversation.NewInMemoryRepository()}
	f := newFixture(t, counting)
	ctx := context.Background()
	f.checkIn(t, "A", "4821")
	f.checkIn(t, "B", "9310")

	if _, err := f.engine.RecordWave(ctx, "A", eventID, "9310"); err != nil {
		t.Fatalf("A->B RecordWave() error = %v", err)
	}
	if _, err := f.engine.RecordWave(ctx, "B", eventID, "4821"); err != nil {
		t.Fatalf("B->A RecordWave() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		res, err := f.engine.RecordWave(ctx, "A", eventID, "9310")
		if err != nil || res.Outcome != OutcomeAlreadySent || !res.Mutual {
			t.Fatalf("repeat %d = %+v, %v; want already_sent and mutual", i+1, res, err)
		}
	}

	if counting.calls != 1 {
		t.Errorf("upsert calls = %d, want 1", counting.calls)
	}
}
