package vesting

import (
	"math/big"
	"testing"

	"pgregory.net/rapid"

	"github.com/vietddude/streamledger/internal/core/domain"
)

func newStream(total int64, start, end uint64) *domain.Stream {
	return &domain.Stream{
		ID:              1,
		Sender:          "SP1SENDER",
		Recipient:       "SP2RECIPIENT",
		TotalAmount:     big.NewInt(total),
		WithdrawnAmount: new(big.Int),
		StartBlock:      start,
		EndBlock:        end,
	}
}

func TestVestedAmount(t *testing.T) {
	s := newStream(1000, 100, 200)

	tests := []struct {
		name    string
		atBlock uint64
		want    int64
	}{
		{"before start", 99, 0},
		{"at start", 100, 0},
		{"midway", 150, 500},
		{"floor rounding", 133, 330},
		{"at end", 200, 1000},
		{"after end", 1000, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VestedAmount(s, tt.atBlock)
			if got.Cmp(big.NewInt(tt.want)) != 0 {
				t.Errorf("VestedAmount(%d) = %s, want %d", tt.atBlock, got, tt.want)
			}
		})
	}
}

func TestVestedAmount_FloorsNonDivisible(t *testing.T) {
	s := newStream(10, 0, 3)
	if got := VestedAmount(s, 1); got.Int64() != 3 {
		t.Errorf("expected 3, got %s", got)
	}
	if got := VestedAmount(s, 2); got.Int64() != 6 {
		t.Errorf("expected 6, got %s", got)
	}
}

func TestVestedAmount_LargeAmounts(t *testing.T) {
	total, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10) // u128 max
	s := &domain.Stream{TotalAmount: total, WithdrawnAmount: new(big.Int), StartBlock: 0, EndBlock: 2}

	want := new(big.Int).Rsh(total, 1)
	if got := VestedAmount(s, 1); got.Cmp(want) != 0 {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestVestedAmount_CancelledFreezes(t *testing.T) {
	s := newStream(1000, 100, 200)
	at := uint64(160)
	s.Cancelled = true
	s.CancelledAtBlock = &at

	if got := VestedAmount(s, 200); got.Int64() != 600 {
		t.Errorf("expected vesting frozen at 600, got %s", got)
	}
	if got := VestedAmount(s, 120); got.Int64() != 200 {
		t.Errorf("historical query before cancellation should be 200, got %s", got)
	}
	if Status(s, 200) != domain.StreamStatusCancelled {
		t.Errorf("expected cancelled status, got %s", Status(s, 200))
	}
}

func TestWithdrawableAmount(t *testing.T) {
	s := newStream(1000, 100, 200)
	s.WithdrawnAmount = big.NewInt(300)

	if got := WithdrawableAmount(s, 150); got.Int64() != 200 {
		t.Errorf("expected 200, got %s", got)
	}
	// Withdrawn above vested never goes negative.
	if got := WithdrawableAmount(s, 110); got.Sign() != 0 {
		t.Errorf("expected 0, got %s", got)
	}
}

func TestStatus(t *testing.T) {
	s := newStream(1000, 100, 200)

	if got := Status(s, 50); got != domain.StreamStatusPending {
		t.Errorf("expected pending, got %s", got)
	}
	if got := Status(s, 150); got != domain.StreamStatusActive {
		t.Errorf("expected active, got %s", got)
	}
	if got := Status(s, 250); got != domain.StreamStatusActive {
		t.Errorf("ended but not fully withdrawn should stay active, got %s", got)
	}

	s.WithdrawnAmount = big.NewInt(1000)
	if got := Status(s, 250); got != domain.StreamStatusCompleted {
		t.Errorf("expected completed, got %s", got)
	}
}

func TestCompute_ScenarioA(t *testing.T) {
	snap := Compute(newStream(1000, 100, 200), 150)
	if snap.VestedAmount.Int64() != 500 || snap.WithdrawableAmount.Int64() != 500 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Status != domain.StreamStatusActive {
		t.Errorf("expected active, got %s", snap.Status)
	}
}

func genStream(t *rapid.T) *domain.Stream {
	start := rapid.Uint64Range(0, 1_000_000).Draw(t, "start")
	length := rapid.Uint64Range(1, 1_000_000).Draw(t, "length")
	total := rapid.Int64Range(0, 1<<62).Draw(t, "total")
	s := newStream(total, start, start+length)

	vestedAt := rapid.Uint64Range(0, start+2*length).Draw(t, "withdrawnAt")
	vested := VestedAmount(s, vestedAt)
	if vested.Sign() > 0 {
		withdrawn := rapid.Int64Range(0, vested.Int64()).Draw(t, "withdrawn")
		s.WithdrawnAmount = big.NewInt(withdrawn)
	}
	return s
}

func TestProperty_Monotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genStream(t)
		b1 := rapid.Uint64Range(0, s.EndBlock+100).Draw(t, "b1")
		b2 := rapid.Uint64Range(b1, s.EndBlock+200).Draw(t, "b2")

		if VestedAmount(s, b1).Cmp(VestedAmount(s, b2)) > 0 {
			t.Fatalf("vested(%d) > vested(%d)", b1, b2)
		}
	})
}

func TestProperty_BoundedByTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := genStream(t)
		at := rapid.Uint64().Draw(t, "at")

		vested := VestedAmount(s, at)
		if vested.Sign() < 0 || vested.Cmp(s.TotalAmount) > 0 {
			t.Fatalf("vested %s outside [0, %s]", vested, s.TotalAmount)
		}
		w := WithdrawableAmount(s, at)
		if w.Sign() < 0 || w.Cmp(vested) > 0 {
			t.Fatalf("withdrawable %s outside [0, %s]", w, vested)
		}
	})
}
