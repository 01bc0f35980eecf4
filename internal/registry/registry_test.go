package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Iron-Ham/dysche/internal/errors"
)

func newRegistry(t *testing.T, capacity int) *Registry {
	t.Helper()
	r, err := New(capacity)
	if err != nil {
		t.Fatalf("New(%d): %v", capacity, err)
	}
	return r
}

func TestNew_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		if _, err := New(c); !errors.Is(err, errors.ErrInvalidArgument) {
			t.Errorf("New(%d) = %v, want invalid argument", c, err)
		}
	}
}

func TestClaim_LowestFree(t *testing.T) {
	r := newRegistry(t, 4)

	for want := 1; want <= 4; want++ {
		got, err := r.Claim(fmt.Sprintf("vm%d", want))
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if got != want {
			t.Errorf("Claim() = %d, want %d", got, want)
		}
	}

	if _, err := r.Claim("vm5"); !errors.Is(err, errors.ErrResourceExhausted) {
		t.Errorf("Claim on full pool = %v, want resource exhausted", err)
	}

	if err := r.Release(2); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.Claim("vm5"); got != 2 {
		t.Errorf("Claim after Release(2) = %d, want 2", got)
	}
}

func TestClaim_DuplicateName(t *testing.T) {
	r := newRegistry(t, 4)
	if _, err := r.Claim("vm0"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Claim("vm0"); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("duplicate Claim = %v, want invalid argument", err)
	}
	if r.Free() != 3 {
		t.Errorf("Free() = %d, want 3", r.Free())
	}
}

func TestClaimRelease_Symmetry(t *testing.T) {
	r := newRegistry(t, 8)

	var ids []int
	for i := range 8 {
		id, err := r.Claim(fmt.Sprintf("p%d", i))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := r.Release(id); err != nil {
			t.Fatal(err)
		}
	}
	if r.Free() != r.Capacity() || len(r.Live()) != 0 {
		t.Errorf("pool not restored: free=%d live=%v", r.Free(), r.Live())
	}
}

func TestRelease_Errors(t *testing.T) {
	r := newRegistry(t, 2)

	tests := []struct {
		name string
		id   int
		want error
	}{
		{"zero", 0, errors.ErrInvalidArgument},
		{"past capacity", 3, errors.ErrInvalidArgument},
		{"free identity", 1, errors.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Release(tt.id); !errors.Is(err, tt.want) {
				t.Errorf("Release(%d) = %v, want %v", tt.id, err, tt.want)
			}
		})
	}
}

func TestReserve(t *testing.T) {
	r := newRegistry(t, 4)

	if err := r.Reserve(3, "saved"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := r.Reserve(3, "saved"); err != nil {
		t.Errorf("repeat Reserve by owner = %v", err)
	}
	if err := r.Reserve(3, "other"); !errors.Is(err, errors.ErrResourceExhausted) {
		t.Errorf("Reserve of held identity = %v", err)
	}
	if err := r.Reserve(9, "x"); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("Reserve out of range = %v", err)
	}

	var got []int
	for i := range 3 {
		id, err := r.Claim(fmt.Sprintf("n%d", i))
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, id)
	}
	if fmt.Sprint(got) != "[1 2 4]" {
		t.Errorf("claims around reserved identity = %v", got)
	}

	if id, ok := r.Lookup("saved"); !ok || id != 3 {
		t.Errorf("Lookup(saved) = %d, %v", id, ok)
	}
	if !r.InUse(3) || r.InUse(0) {
		t.Error("InUse mismatch")
	}
}

func TestLive_Ordered(t *testing.T) {
	r := newRegistry(t, 4)
	_ = r.Reserve(4, "d")
	_, _ = r.Claim("a")

	live := r.Live()
	if len(live) != 2 || live[0] != (Entry{1, "a"}) || live[1] != (Entry{4, "d"}) {
		t.Errorf("Live() = %v", live)
	}
}

func TestClaim_Concurrent(t *testing.T) {
	const capacity = 16
	r := newRegistry(t, capacity)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int]bool{}
		full int
	)
	for i := range capacity * 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := r.Claim(fmt.Sprintf("c%d", i))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				full++
				return
			}
			if seen[id] {
				t.Errorf("identity %d handed out twice", id)
			}
			seen[id] = true
		}()
	}
	wg.Wait()

	if len(seen) != capacity || full != capacity {
		t.Errorf("claimed=%d exhausted=%d", len(seen), full)
	}
}

func TestBind(t *testing.T) {
	r := newRegistry(t, 4)

	a, _ := r.Claim("")
	b, _ := r.Claim("")
	if a == b {
		t.Fatal("unnamed claims share an identity")
	}
	if err := r.Bind(a, "vm0"); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := r.Bind(a, "vm0"); err != nil {
		t.Errorf("rebinding same name = %v", err)
	}
	if err := r.Bind(b, "vm0"); !errors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("Bind of taken name = %v", err)
	}
	if err := r.Bind(3, "vm3"); !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("Bind of free identity = %v", err)
	}
	if id, ok := r.Lookup("vm0"); !ok || id != a {
		t.Errorf("Lookup(vm0) = %d, %v", id, ok)
	}
}
