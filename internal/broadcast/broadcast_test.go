package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/raymondsend/ytfetch/internal/kvstore"
	"github.com/raymondsend/ytfetch/internal/users"
)

type statusRecorder struct {
	transitions map[int64]users.Status
}

func (s *statusRecorder) UpdateStatus(_ context.Context, userID int64, status users.Status) error {
	if s.transitions == nil {
		s.transitions = make(map[int64]users.Status)
	}
	s.transitions[userID] = status
	return nil
}

func TestClassifyDeliveryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want users.Status
	}{
		{"blocked", errors.New("Forbidden: bot was blocked by the user"), users.StatusBlocked},
		{"deactivated", errors.New("Forbidden: user is deactivated"), users.StatusDeleted},
		{"flood wait", errors.New("Too Many Requests: retry after 5"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyDeliveryError(tt.err); got != tt.want {
				t.Errorf("ClassifyDeliveryError = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunDeliversAndClearsProgress(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	rec := &statusRecorder{}
	m := NewMailer(kv, rec)
	m.Pause = 0

	blocked := errors.New("Forbidden: bot was blocked by the user")
	var delivered []int64
	res, err := m.Run(ctx, []int64{1, 2, 3}, func(userID int64) error {
		if userID == 2 {
			return blocked
		}
		delivered = append(delivered, userID)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if res.Sent != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 sent / 1 failed", res)
	}
	if len(delivered) != 2 {
		t.Errorf("delivered = %v", delivered)
	}
	if rec.transitions[2] != users.StatusBlocked {
		t.Errorf("user 2 status = %q, want blocked", rec.transitions[2])
	}

	pending, _, err := m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Errorf("pending after run = %d, want 0", pending)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	m := NewMailer(kv, &statusRecorder{})
	m.Pause = 0

	var delivered []int64
	_, err := m.Run(ctx, []int64{1, 2, 3}, func(userID int64) error {
		delivered = append(delivered, userID)
		if userID == 1 {
			// An operator cancels mid-run.
			if err := m.Cancel(ctx); err != nil {
				t.Fatal(err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 1 || delivered[0] != 1 {
		t.Errorf("delivered = %v, want only user 1", delivered)
	}
}

func TestStatusReportsTotals(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	m := NewMailer(kv, &statusRecorder{})

	pending, total, err := m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 || total != 0 {
		t.Errorf("empty status = (%d, %d)", pending, total)
	}

	if err := kv.SetAdd(ctx, kvstore.KeyMailingProgress, "1", "2"); err != nil {
		t.Fatal(err)
	}
	if err := kv.Set(ctx, kvstore.KeyMailingTotal, "5", 0); err != nil {
		t.Fatal(err)
	}
	pending, total, err = m.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 2 || total != 5 {
		t.Errorf("status = (%d, %d), want (2, 5)", pending, total)
	}
}
