package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryRepository_RSVP(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if _, err := repo.GetRSVP(ctx, "event-1", "alice"); !errors.Is(err, ErrRSVPNotFound) {
		t.Fatalf("GetRSVP() error = %v, want ErrRSVPNotFound", err)
	}

	first, err := repo.UpsertRSVP(ctx, &RSVP{EventID: "event-1", ParticipantID: "alice", DoorCode: "AAAA2222"})
	if err != nil {
		t.Fatalf("UpsertRSVP() error = %v", err)
	}
	if first.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	second, err := repo.UpsertRSVP(ctx, &RSVP{EventID: "event-1", ParticipantID: "alice", DoorCode: "BBBB3333"})
	if err != nil {
		t.Fatalf("UpsertRSVP() second call error = %v", err)
	}
	if second.DoorCode != "AAAA2222" {
		t.Errorf("second UpsertRSVP() door code = %q, want original AAAA2222", second.DoorCode)
	}
}

func TestInMemoryRepository_InsertCheckIn_Constraints(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	alice := &CheckIn{ParticipantID: "alice", EventID: "event-1", PIN: "1234"}
	if err := repo.InsertCheckIn(ctx, alice); err != nil {
		t.Fatalf("InsertCheckIn() error = %v", err)
	}
	if alice.ID == "" || alice.CheckedInAt.IsZero() {
		t.Fatal("expected ID and CheckedInAt to be assigned")
	}

	tests := []struct {
		name    string
		ci      *CheckIn
		wantErr error
	}{
		{"same participant twice", &CheckIn{ParticipantID: "alice", EventID: "event-1", PIN: "9999"}, ErrAlreadyCheckedIn},
		{"pin taken at event", &CheckIn{ParticipantID: "bob", EventID: "event-1", PIN: "1234"}, ErrPINTaken},
		{"same pin other event", &CheckIn{ParticipantID: "bob", EventID: "event-2", PIN: "1234"}, nil},
		{"same participant other event", &CheckIn{ParticipantID: "alice", EventID: "event-3", PIN: "1234"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.InsertCheckIn(ctx, tt.ci)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("InsertCheckIn() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("InsertCheckIn() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, err := repo.GetCheckInByPIN(ctx, "event-1", "1234")
	if err != nil {
		t.Fatalf("GetCheckInByPIN() error = %v", err)
	}
	if got.ParticipantID != "alice" {
		t.Errorf("GetCheckInByPIN() participant = %q, want alice", got.ParticipantID)
	}
	if _, err := repo.GetCheckInByPIN(ctx, "event-1", "0000"); !errors.Is(err, ErrCheckInNotFound) {
		t.Errorf("GetCheckInByPIN() unknown pin error = %v, want ErrCheckInNotFound", err)
	}
}

func TestInMemoryRepository_MarkGeoVerified(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	ci := &CheckIn{ParticipantID: "alice", EventID: "event-1", PIN: "1234"}
	if err := repo.InsertCheckIn(ctx, ci); err != nil {
		t.Fatalf("InsertCheckIn() error = %v", err)
	}

	if err := repo.MarkGeoVerified(ctx, ci.ID, "9q8yyk"); err != nil {
		t.Fatalf("MarkGeoVerified() error = %v", err)
	}

	got, err := repo.GetCheckIn(ctx, "alice", "event-1")
	if err != nil {
		t.Fatalf("GetCheckIn() error = %v", err)
	}
	if !got.GeoVerified || got.CoarseGeohash != "9q8yyk" {
		t.Errorf("check-in geo = (%v, %q), want (true, 9q8yyk)", got.GeoVerified, got.CoarseGeohash)
	}

	if err := repo.MarkGeoVerified(ctx, "missing", "9q8yyk"); !errors.Is(err, ErrCheckInNotFound) {
		t.Errorf("MarkGeoVerified() unknown id error = %v, want ErrCheckInNotFound", err)
	}
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if err := repo.InsertCheckIn(ctx, &CheckIn{ParticipantID: "alice", EventID: "event-1", PIN: "1234"}); err != nil {
		t.Fatalf("InsertCheckIn() error = %v", err)
	}

	got, _ := repo.GetCheckIn(ctx, "alice", "event-1")
	got.PIN = "0000"

	again, _ := repo.GetCheckIn(ctx, "alice", "event-1")
	if again.PIN != "1234" {
		t.Errorf("stored pin mutated through returned copy: %q", again.PIN)
	}
}

func TestInMemoryRepository_ConcurrentSamePIN(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.InsertCheckIn(ctx, &CheckIn{
				ParticipantID: fmt.Sprintf("p-%d", i),
				EventID:       "event-1",
				PIN:           "4242",
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrPINTaken) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 {
		t.Errorf("expected exactly one insert to win pin 4242, got %d", succeeded)
	}
	if n := repo.CountCheckIns("event-1"); n != 1 {
		t.Errorf("CountCheckIns() = %d, want 1", n)
	}
}
