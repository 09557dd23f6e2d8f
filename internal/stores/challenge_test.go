package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *ChallengeStore {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	return NewChallengeStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "a2f")
}

func TestChallengeSaveGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	record := &Challenge{
		Method:    "totp",
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
		Attempts:  0,
	}
	if err := store.Save(ctx, "acc-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "acc-1", now)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Method != "totp" || got.ExpiresAt != record.ExpiresAt || got.Attempts != 0 {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestChallengeGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "acc-1", time.Unix(1700000000, 0))
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeGetExpiredDeletes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	record := &Challenge{Method: "totp", ExpiresAt: now.Add(5 * time.Minute).Unix()}
	if err := store.Save(ctx, "acc-1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := store.Get(ctx, "acc-1", now.Add(6*time.Minute)); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
	// The expired record was removed, not left behind.
	if _, err := store.Get(ctx, "acc-1", now); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after expiry cleanup, got %v", err)
	}
}

func TestChallengeDeleteReportsPresence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	record := &Challenge{Method: "sms", ExpiresAt: now.Add(5 * time.Minute).Unix()}
	if err := store.Save(ctx, "acc-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	deleted, err := store.Delete(ctx, "acc-1")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !deleted {
		t.Fatal("expected first delete to report presence")
	}

	deleted, err = store.Delete(ctx, "acc-1")
	if err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if deleted {
		t.Fatal("second delete must report absence")
	}
}

func TestChallengeRecordFailureCountsAndExhausts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	record := &Challenge{Method: "totp", ExpiresAt: now.Add(5 * time.Minute).Unix()}
	if err := store.Save(ctx, "acc-1", record, 5*time.Minute); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	exceeded, err := store.RecordFailure(ctx, "acc-1", 3, now)
	if err != nil || exceeded {
		t.Fatalf("first failure: exceeded=%v err=%v", exceeded, err)
	}

	got, err := store.Get(ctx, "acc-1", now)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempts %d, want 1", got.Attempts)
	}

	if exceeded, err = store.RecordFailure(ctx, "acc-1", 3, now); err != nil || exceeded {
		t.Fatalf("second failure: exceeded=%v err=%v", exceeded, err)
	}
	exceeded, err = store.RecordFailure(ctx, "acc-1", 3, now)
	if err != nil {
		t.Fatalf("third failure: %v", err)
	}
	if !exceeded {
		t.Fatal("expected exhaustion on third failure")
	}

	// Exhaustion deletes the challenge.
	if _, err := store.Get(ctx, "acc-1", now); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound after exhaustion, got %v", err)
	}
}

func TestChallengeRecordFailureMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.RecordFailure(context.Background(), "acc-1", 3, time.Unix(1700000000, 0))
	if !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestChallengeRecordFailureExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	record := &Challenge{Method: "totp", ExpiresAt: now.Add(5 * time.Minute).Unix()}
	if err := store.Save(ctx, "acc-1", record, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, err := store.RecordFailure(ctx, "acc-1", 3, now.Add(6*time.Minute))
	if !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestChallengeEncodeDecode(t *testing.T) {
	record := &Challenge{Method: "sms", ExpiresAt: 1700000300, Attempts: 4}

	encoded, err := encodeChallenge(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := decodeChallenge(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *decoded != *record {
		t.Fatalf("roundtrip mismatch: %+v != %+v", decoded, record)
	}

	if _, err := decodeChallenge([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected error for unknown record version")
	}
	if _, err := decodeChallenge(nil); err == nil {
		t.Fatal("expected error for empty record")
	}
}
