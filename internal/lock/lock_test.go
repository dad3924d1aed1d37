package lock

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jun/gophsync/internal/model"
)

func TestMemoryLocker_AcquireAndRelease(t *testing.T) {
	m := NewMemoryLocker()
	ctx := context.Background()

	l, err := m.Acquire(ctx, "refresh:onedrive", "proc-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.Key != "refresh:onedrive" || l.Owner != "proc-1" {
		t.Errorf("lease mismatch: got %+v", l)
	}

	if err := m.Release(ctx, "refresh:onedrive", "proc-1"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := m.Acquire(ctx, "refresh:onedrive", "proc-2"); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}
}

func TestMemoryLocker_DoubleAcquire(t *testing.T) {
	m := NewMemoryLocker()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "k", "proc-1"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := m.Acquire(ctx, "k", "proc-1"); err != nil {
		t.Errorf("same owner should be able to re-acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "k", "proc-2"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked for a different owner, got %v", err)
	}
}

func TestMemoryLocker_ExpiredLease(t *testing.T) {
	m := NewMemoryLocker()
	m.ttlDuration = -1 * time.Second // already expired
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "k", "proc-1"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if _, err := m.Acquire(ctx, "k", "proc-2"); err != nil {
		t.Errorf("should take over an expired lease: %v", err)
	}
}

func TestMemoryLocker_ReleaseWrongOwner(t *testing.T) {
	m := NewMemoryLocker()
	ctx := context.Background()
	m.Acquire(ctx, "k", "proc-1")

	if err := m.Release(ctx, "k", "proc-2"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked releasing another owner's lease, got %v", err)
	}
	if err := m.Release(ctx, "missing", "proc-1"); err != nil {
		t.Errorf("releasing a missing lease should succeed: %v", err)
	}
}

// fakeLeaseTable evaluates the two condition expressions DynamoLocker issues.
type fakeLeaseTable struct {
	leases map[string]model.Lease
}

func (f *fakeLeaseTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	var lease model.Lease
	if err := attributevalue.UnmarshalMap(in.Item, &lease); err != nil {
		return nil, err
	}
	now, _ := strconv.ParseInt(in.ExpressionAttributeValues[":now"].(*types.AttributeValueMemberN).Value, 10, 64)
	owner := in.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS).Value

	if existing, ok := f.leases[lease.Key]; ok && existing.ExpiresAt >= now && existing.Owner != owner {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
	}
	f.leases[lease.Key] = lease
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLeaseTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := in.Key["lock_key"].(*types.AttributeValueMemberS).Value
	owner := in.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS).Value
	if existing, ok := f.leases[key]; !ok || existing.Owner != owner {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
	}
	delete(f.leases, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func strPtr(s string) *string { return &s }

func TestDynamoLocker(t *testing.T) {
	table := &fakeLeaseTable{leases: map[string]model.Lease{}}
	m := NewDynamoLocker(table, "Leases")
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "k", "proc-1")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if lease.ExpiresAt != now.Add(DefaultTTL).Unix() {
		t.Errorf("ExpiresAt = %d", lease.ExpiresAt)
	}

	if _, err := m.Acquire(ctx, "k", "proc-2"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	now = now.Add(DefaultTTL + time.Second)
	if _, err := m.Acquire(ctx, "k", "proc-2"); err != nil {
		t.Errorf("expired lease should be taken over: %v", err)
	}

	if err := m.Release(ctx, "k", "proc-1"); !errors.Is(err, ErrLocked) {
		t.Errorf("stale owner release: expected ErrLocked, got %v", err)
	}
	if err := m.Release(ctx, "k", "proc-2"); err != nil {
		t.Errorf("Release failed: %v", err)
	}
}

type flakyLocker struct {
	busy  int
	calls int
}

func (f *flakyLocker) Acquire(_ context.Context, key, owner string) (*model.Lease, error) {
	f.calls++
	if f.calls <= f.busy {
		return nil, ErrLocked
	}
	return &model.Lease{Key: key, Owner: owner}, nil
}

func (f *flakyLocker) Release(context.Context, string, string) error { return nil }

func TestAcquireWait(t *testing.T) {
	ctx := context.Background()

	l := &flakyLocker{busy: 2}
	lease, err := AcquireWait(ctx, l, "k", "me", time.Millisecond, 5)
	if err != nil {
		t.Fatalf("AcquireWait failed: %v", err)
	}
	if lease.Owner != "me" || l.calls != 3 {
		t.Errorf("lease=%+v calls=%d", lease, l.calls)
	}

	l = &flakyLocker{busy: 10}
	if _, err := AcquireWait(ctx, l, "k", "me", time.Millisecond, 3); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked after exhausting attempts, got %v", err)
	}
	if l.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", l.calls)
	}
}

func TestAcquireWait_ZeroAttemptsTriesOnce(t *testing.T) {
	l := &flakyLocker{busy: 10}
	_, err := AcquireWait(context.Background(), l, "k", "me", time.Millisecond, 0)
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	if l.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", l.calls)
	}
}
