package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/TLC405/morganisthebest/internal/checkin"
	"github.com/TLC405/morganisthebest/internal/conversation"
	"github.com/TLC405/morganisthebest/internal/tracing"
	"github.com/TLC405/morganisthebest/internal/wave"
)

// Provisioning retry defaults.
const (
	DefaultProvisionAttempts        = 3
	DefaultProvisionInitialInterval = 50 * time.Millisecond
	DefaultProvisionMaxInterval     = 500 * time.Millisecond
)

// EngineConfig configures an Engine.
type EngineConfig struct {
	// ProvisionAttempts bounds conversation provisioning attempts per call.
	ProvisionAttempts int
	// ProvisionInitialInterval is the first retry delay; later delays grow
	// exponentially up to ProvisionMaxInterval.
	ProvisionInitialInterval time.Duration
	ProvisionMaxInterval     time.Duration
	// Publisher receives a MatchEvent per participant when a conversation is
	// created. Optional.
	Publisher Publisher
	// Metrics is optional.
	Metrics *Metrics
}

// Engine records waves and reconciles mutual matches.
type Engine struct {
	checkIns      checkin.Repository
	waves         wave.Repository
	conversations conversation.Repository
	publisher     Publisher
	metrics       *Metrics

	attempts        int
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewEngine creates a match engine over the given repositories.
func NewEngine(checkIns checkin.Repository, waves wave.Repository, conversations conversation.Repository, cfg EngineConfig) *Engine {
	e := &Engine{
		checkIns:        checkIns,
		waves:           waves,
		conversations:   conversations,
		publisher:       cfg.Publisher,
		metrics:         cfg.Metrics,
		attempts:        cfg.ProvisionAttempts,
		initialInterval: cfg.ProvisionInitialInterval,
		maxInterval:     cfg.ProvisionMaxInterval,
	}
	if e.attempts <= 0 {
		e.attempts = DefaultProvisionAttempts
	}
	if e.initialInterval <= 0 {
		e.initialInterval = DefaultProvisionInitialInterval
	}
	if e.maxInterval < e.initialInterval {
		e.maxInterval = DefaultProvisionMaxInterval
		if e.maxInterval < e.initialInterval {
			e.maxInterval = e.initialInterval
		}
	}
	return e
}

// RecordWave records that fromID is interested in the holder of pin at
// eventID and reports whether this completes a mutual match.
//
// A PIN that resolves to nobody yields OutcomeNotFound and a repeated wave
// yields OutcomeAlreadySent; neither is an error. Mutual detection also runs
// for repeated waves so a retry finishes a match whose provisioning failed.
// Once both waves are accepted the match is settled: a repeat reports the
// pair's latest conversation, even an ended one, and never creates another.
// Provisioning failures are returned as ErrMatchIncomplete and never as a
// non-mutual result.
func (e *Engine) RecordWave(ctx context.Context, fromID, eventID, pin string) (res *WaveResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "match.record_wave")
	defer func() { endSpan(err) }()

	target, err := e.resolveTarget(ctx, fromID, eventID, pin)
	if err != nil {
		return nil, err
	}
	if target == nil {
		e.metrics.incWave(OutcomeNotFound)
		slog.DebugContext(ctx, "wave pin not found", "event_id", eventID, "from_id", fromID)
		return &WaveResult{Outcome: OutcomeNotFound}, nil
	}

	w := &wave.Wave{FromID: fromID, ToID: target.ParticipantID, EventID: eventID}
	outcome := OutcomeRecorded

	err = e.waves.Insert(ctx, w)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "wave recorded",
			"event_id", eventID,
			"from_id", fromID,
			"to_id", w.ToID,
			"wave_id", w.ID,
		)
	case errors.Is(err, wave.ErrWaveExists):
		outcome = OutcomeAlreadySent
		existing, getErr := e.waves.Get(ctx, wave.Key{FromID: fromID, ToID: w.ToID, EventID: eventID})
		if getErr != nil {
			return nil, fmt.Errorf("load existing wave: %w", getErr)
		}
		w = existing
	case errors.Is(err, wave.ErrSelfWave):
		return nil, ErrSelfWaveRejected
	default:
		return nil, fmt.Errorf("insert wave: %w", err)
	}

	e.metrics.incWave(outcome)
	tracing.SetAttributes(ctx,
		attribute.String("event.id", eventID),
		attribute.String("wave.outcome", string(outcome)),
	)
	res = &WaveResult{Outcome: outcome, WaveID: w.ID}

	convID, err := e.reconcile(ctx, w)
	if err != nil {
		return nil, err
	}
	if convID != "" {
		res.Mutual = true
		res.ConversationID = convID
		tracing.AddEvent(ctx, "match.mutual", attribute.String("conversation.id", convID))
	}
	return res, nil
}

// DeclineWave declines the pending wave that the holder of pin sent to
// participantID at eventID. A PIN that resolves to nobody, or a sender who
// never waved, yields OutcomeNotFound.
func (e *Engine) DeclineWave(ctx context.Context, participantID, eventID, pin string) (res *WaveResult, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "match.decline_wave")
	defer func() { endSpan(err) }()

	sender, err := e.resolveTarget(ctx, participantID, eventID, pin)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return &WaveResult{Outcome: OutcomeNotFound}, nil
	}

	incoming, err := e.waves.Get(ctx, wave.Key{FromID: sender.ParticipantID, ToID: participantID, EventID: eventID})
	if errors.Is(err, wave.ErrWaveNotFound) {
		return &WaveResult{Outcome: OutcomeNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load incoming wave: %w", err)
	}

	if err := e.waves.UpdateStatus(ctx, incoming.ID, wave.StatusDeclined); err != nil {
		return nil, fmt.Errorf("decline wave: %w", err)
	}

	e.metrics.incWave(OutcomeDeclined)
	slog.InfoContext(ctx, "wave declined",
		"event_id", eventID,
		"wave_id", incoming.ID,
		"participant_id", participantID,
	)
	return &WaveResult{Outcome: OutcomeDeclined, WaveID: incoming.ID}, nil
}

// resolveTarget checks that participantID is checked in to eventID and
// resolves pin to another attendee's check-in. It returns nil without error
// when no attendee holds pin.
func (e *Engine) resolveTarget(ctx context.Context, participantID, eventID, pin string) (*checkin.CheckIn, error) {
	if err := checkin.ValidatePINFormat(pin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPIN, err)
	}

	if _, err := e.checkIns.GetCheckIn(ctx, participantID, eventID); err != nil {
		if errors.Is(err, checkin.ErrCheckInNotFound) {
			return nil, ErrNotCheckedIn
		}
		return nil, fmt.Errorf("load sender check-in: %w", err)
	}

	target, err := e.checkIns.GetCheckInByPIN(ctx, eventID, pin)
	if errors.Is(err, checkin.ErrCheckInNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve pin: %w", err)
	}
	if target.ParticipantID == participantID {
		return nil, ErrSelfWaveRejected
	}
	return target, nil
}

// reconcile looks for the reverse of w and, when both directions count toward
// a match, provisions the pair's conversation. It returns the conversation ID,
// or "" when the match is one-sided.
func (e *Engine) reconcile(ctx context.Context, w *wave.Wave) (string, error) {
	if !w.Status.CountsTowardMatch() {
		return "", nil
	}

	key := wave.Key{FromID: w.FromID, ToID: w.ToID, EventID: w.EventID}
	reverse, err := e.waves.Get(ctx, key.Reverse())
	if errors.Is(err, wave.ErrWaveNotFound) {
		return "", nil
	}
	if err != nil {
		// Mutuality is unknown; reporting a one-sided wave here could hide a match.
		return "", fmt.Errorf("load reverse wave: %w", err)
	}
	if !reverse.Status.CountsTowardMatch() {
		return "", nil
	}

	e.metrics.incMutual()

	// Both waves are accepted only after provisioning succeeded, so the match
	// is settled. Report its conversation as is: upserting here would reopen
	// a conversation one of them has ended.
	if w.Status == wave.StatusAccepted && reverse.Status == wave.StatusAccepted {
		conv, err := e.settledConversation(ctx, w)
		if err != nil {
			return "", err
		}
		if conv != nil {
			return conv.ID, nil
		}
		slog.WarnContext(ctx, "accepted waves without a conversation, provisioning",
			"event_id", w.EventID,
			"from_id", w.FromID,
			"to_id", w.ToID,
		)
	}

	conv, created, err := e.provision(ctx, w, reverse)
	if err != nil {
		e.metrics.incProvisionFailure()
		slog.ErrorContext(ctx, "mutual match provisioning failed",
			"error", err,
			"event_id", w.EventID,
			"from_id", w.FromID,
			"to_id", w.ToID,
		)
		return "", fmt.Errorf("%w: %v", ErrMatchIncomplete, err)
	}

	e.metrics.incProvisioned(created)
	slog.InfoContext(ctx, "mutual match",
		"event_id", w.EventID,
		"conversation_id", conv.ID,
		"created", created,
	)

	if created {
		e.notify(ctx, conv, w.EventID)
	}
	return conv.ID, nil
}

// settledConversation returns the most recent conversation of w's pair in
// any status, or nil when the pair has none.
func (e *Engine) settledConversation(ctx context.Context, w *wave.Wave) (*conversation.Conversation, error) {
	pair, err := conversation.NewPair(w.FromID, w.ToID)
	if err != nil {
		return nil, err
	}
	conv, err := e.conversations.LatestForPair(ctx, pair)
	if errors.Is(err, conversation.ErrConversationNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settled conversation: %w", err)
	}
	return conv, nil
}

// provision upserts the pair's conversation and accepts both waves, retrying
// transient failures with exponential backoff.
func (e *Engine) provision(ctx context.Context, w, reverse *wave.Wave) (*conversation.Conversation, bool, error) {
	pair, err := conversation.NewPair(w.FromID, w.ToID)
	if err != nil {
		return nil, false, err
	}

	var (
		conv    *conversation.Conversation
		created bool
	)
	op := func() error {
		c, isNew, err := e.conversations.Upsert(ctx, pair, w.EventID)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		conv = c
		created = created || isNew

		for _, id := range []string{w.ID, reverse.ID} {
			if err := e.waves.UpdateStatus(ctx, id, wave.StatusAccepted); err != nil {
				if errors.Is(err, wave.ErrInvalidTransition) {
					return backoff.Permanent(err)
				}
				return fmt.Errorf("accept wave %s: %w", id, err)
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.initialInterval
	b.MaxInterval = e.maxInterval
	b.MaxElapsedTime = 0

	notify := func(err error, next time.Duration) {
		slog.WarnContext(ctx, "retrying conversation provisioning",
			"error", err,
			"event_id", w.EventID,
			"retry_in", next,
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.attempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, false, err
	}
	return conv, created, nil
}

// notify publishes a MatchEvent to both participants. Delivery failures are
// logged; the conversation already exists and appears in either listing.
func (e *Engine) notify(ctx context.Context, conv *conversation.Conversation, eventID string) {
	if e.publisher == nil {
		return
	}

	pair := conv.Pair()
	now := time.Now()
	for _, id := range []string{pair.A, pair.B} {
		evt := MatchEvent{
			Type:           MatchEventType,
			ConversationID: conv.ID,
			EventID:        eventID,
			ParticipantID:  id,
			MatchedWith:    pair.Other(id),
			MatchedAt:      now,
		}
		if err := e.publisher.Publish(ctx, id, evt); err != nil {
			slog.WarnContext(ctx, "failed to publish match event",
				"error", err,
				"conversation_id", conv.ID,
				"participant_id", id,
			)
		}
	}
}
