package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperengineering/looper/internal/replica"
	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// fakeClock advances by the configured latency on every request.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockSource serves scripted batches and records the cursors requested.
type mockSource struct {
	mu      sync.Mutex
	clock   *fakeClock
	latency time.Duration
	batches [][]loopsync.RawUpdate
	err     error
	since   []int64
}

func (m *mockSource) Updates(ctx context.Context, since int64, window time.Duration) ([]loopsync.RawUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.since = append(m.since, since)
	if m.clock != nil {
		m.clock.advance(m.latency)
	}
	if m.err != nil {
		return nil, m.err
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

func (m *mockSource) requested() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.since...)
}

func raw(id, action string) loopsync.RawUpdate {
	return loopsync.RawUpdate{ID: json.RawMessage(id), Action: json.RawMessage(action)}
}

func newTestPoller(src *mockSource) (*Poller, *replica.Replica, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
	src.clock = clock
	r := replica.New()
	p := New(src, r, Config{Window: time.Second})
	p.now = clock.Now
	return p, r, clock
}

func TestPollOnce_UnorderedBatchAdvancesToMax(t *testing.T) {
	// Given: a batch with ids [5, 3, 4]
	src := &mockSource{latency: 200 * time.Millisecond, batches: [][]loopsync.RawUpdate{{
		raw(`5`, `{"synths": [{"id": 1, "name": "five"}]}`),
		raw(`3`, `{"synths": [{"id": 2, "name": "three"}]}`),
		raw(`4`, `{"synths": [{"id": 3, "name": "four"}]}`),
	}}}
	p, r, _ := newTestPoller(src)

	// When: polled once
	stats, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	// Then: cursor is 6 and all three payloads were applied in order
	if r.Cursor() != 6 {
		t.Errorf("Cursor() = %d, want 6", r.Cursor())
	}
	if stats.Applied != 3 {
		t.Errorf("Applied = %d, want 3", stats.Applied)
	}
	r.View(func(s *replica.State) {
		if len(s.Tree.Synths) != 3 {
			t.Fatalf("len(Synths) = %d, want 3", len(s.Tree.Synths))
		}
		if s.Tree.Synths[0].Name != "five" || s.Tree.Synths[1].Name != "three" {
			t.Errorf("synths not applied in received order")
		}
	})
}

func TestPollOnce_CursorNeverDecreases(t *testing.T) {
	src := &mockSource{batches: [][]loopsync.RawUpdate{
		{raw(`10`, `{}`)},
		{raw(`2`, `{}`), raw(`7`, `{}`)},
	}}
	p, r, _ := newTestPoller(src)

	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if _, err := p.PollOnce(context.Background()); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	if r.Cursor() != 11 {
		t.Errorf("Cursor() = %d, want 11", r.Cursor())
	}
	if got := src.requested(); len(got) != 2 || got[0] != 0 || got[1] != 11 {
		t.Errorf("requested cursors = %v, want [0 11]", got)
	}
}

func TestPollOnce_PoisonedEntryStillAdvancesCursor(t *testing.T) {
	// Given: a malformed synths payload between two good entries
	src := &mockSource{batches: [][]loopsync.RawUpdate{{
		raw(`0`, `{"synths": [{"id": 1, "name": "ok"}]}`),
		raw(`1`, `{"synths": [{"name": "missing id"}]}`),
		raw(`2`, `{"synths": "not an array"}`),
		raw(`3`, `{"synths": [{"id": 2, "name": "after"}]}`),
	}}}
	p, r, _ := newTestPoller(src)

	stats, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	// Then: the bad entries are counted, the cursor passes them, later entries apply
	if stats.Failed != 2 || stats.Applied != 2 {
		t.Errorf("Failed=%d Applied=%d, want 2 2", stats.Failed, stats.Applied)
	}
	if r.Cursor() != 4 {
		t.Errorf("Cursor() = %d, want 4", r.Cursor())
	}
	r.View(func(s *replica.State) {
		if s.Tree.Synth(2) == nil {
			t.Error("entry after the poisoned one was not applied")
		}
	})
}

func TestPollOnce_SkipsNonIntegerIDs(t *testing.T) {
	src := &mockSource{batches: [][]loopsync.RawUpdate{{
		raw(`"9"`, `{"synths": [{"id": 9, "name": "string id"}]}`),
		raw(`null`, `{}`),
		raw(`1.5`, `{}`),
		raw(`2`, `{"synths": [{"id": 2, "name": "kept"}]}`),
	}}}
	p, r, _ := newTestPoller(src)

	stats, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if stats.Skipped != 3 {
		t.Errorf("Skipped = %d, want 3", stats.Skipped)
	}
	if r.Cursor() != 3 {
		t.Errorf("Cursor() = %d, want 3", r.Cursor())
	}
	r.View(func(s *replica.State) {
		if s.Tree.Synth(9) != nil {
			t.Error("entry with a string id was applied")
		}
	})
}

func TestPollOnce_NonObjectEntriesAreSkipped(t *testing.T) {
	// Given: a batch where bare values surround a valid entry
	batch, err := loopsync.DecodeBatch([]byte(
		`[7, {"id": 3, "action": {"synths": [{"id": 1, "name": "kept"}]}}, "x"]`))
	if err != nil {
		t.Fatalf("DecodeBatch() error = %v", err)
	}
	src := &mockSource{batches: [][]loopsync.RawUpdate{batch}}
	p, r, _ := newTestPoller(src)

	// When: polled once
	stats, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	// Then: the bare values are skipped and the valid entry moves the cursor
	if stats.Skipped != 2 || stats.Applied != 1 {
		t.Errorf("Skipped=%d Applied=%d, want 2 1", stats.Skipped, stats.Applied)
	}
	if r.Cursor() != 4 {
		t.Errorf("Cursor() = %d, want 4", r.Cursor())
	}
	r.View(func(s *replica.State) {
		if s.Tree.Synth(1) == nil {
			t.Error("valid entry was not applied")
		}
	})
}

func TestPollOnce_StalenessGuard(t *testing.T) {
	tests := []struct {
		name       string
		latency    time.Duration
		wantUpdate bool
	}{
		{"fast response is stale", 50 * time.Millisecond, false},
		{"slow response is trusted", 300 * time.Millisecond, true},
		{"threshold is inclusive", 100 * time.Millisecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{latency: tt.latency, batches: [][]loopsync.RawUpdate{{
				raw(`0`, `{"song": {"transport_position": 2.0, "loop_length": 16}}`),
			}}}
			p, r, clock := newTestPoller(src)

			stats, err := p.PollOnce(context.Background())
			if err != nil {
				t.Fatalf("PollOnce() error = %v", err)
			}

			song := r.Song()
			if song.LoopLength != 16 {
				t.Errorf("LoopLength = %v, want 16 regardless of staleness", song.LoopLength)
			}
			updated := !song.TransportEpoch.IsZero()
			if updated != tt.wantUpdate {
				t.Errorf("transport offset updated = %v, want %v", updated, tt.wantUpdate)
			}
			if stats.Stale == tt.wantUpdate {
				t.Errorf("Stale = %v", stats.Stale)
			}
			if tt.wantUpdate {
				if got := song.PositionAt(clock.Now()); got != 2 {
					t.Errorf("PositionAt(received) = %v, want 2", got)
				}
			}
		})
	}
}

func TestPollOnce_RepairsConflictingEcho(t *testing.T) {
	src := &mockSource{batches: [][]loopsync.RawUpdate{
		{raw(`0`, `{"synths": [{"id": 1, "name": "s", "chains": [{"id": 1, "echo": true}, {"id": 2, "echo": false}]}]}`)},
		{raw(`1`, `{"synths": [{"id": 1, "chains": [{"id": 2, "echo": true}]}]}`)},
	}}
	p, r, _ := newTestPoller(src)

	for i := 0; i < 2; i++ {
		if _, err := p.PollOnce(context.Background()); err != nil {
			t.Fatalf("PollOnce() error = %v", err)
		}
	}

	r.View(func(s *replica.State) {
		if s.Tree.Chain(1, 1).Echo || !s.Tree.Chain(1, 2).Echo {
			t.Error("echo not moved to the chain named by the latest delta")
		}
	})
}

func TestPollOnce_InboundMuteFlagsAreAuthoritative(t *testing.T) {
	// Given: an audible audio take whose only MIDI associate the server mutes
	src := &mockSource{batches: [][]loopsync.RawUpdate{
		{raw(`0`, `{"synths": [{"id": 1, "name": "s", "chains": [{"id": 1, "name": "c", "takes": [
			{"id": 1, "type": "Audio", "muted": false, "associated_midi_takes": [2]},
			{"id": 2, "type": "Midi", "muted": false}]}]}]}`)},
		{raw(`1`, `{"synths": [{"id": 1, "chains": [{"id": 1, "takes": [{"id": 2, "muted": true}]}]}]}`)},
	}}
	p, r, _ := newTestPoller(src)

	for i := 0; i < 2; i++ {
		if _, err := p.PollOnce(context.Background()); err != nil {
			t.Fatalf("PollOnce() error = %v", err)
		}
	}

	// Then: the audio take keeps the flag the server last stated
	r.View(func(s *replica.State) {
		if !s.Tree.Take(1, 1, 2).Muted {
			t.Fatal("MIDI mute not applied")
		}
		if s.Tree.Take(1, 1, 1).Muted {
			t.Error("audio flag derived locally from an inbound MIDI mute")
		}
	})
}

func TestPollOnce_RequestErrorKeepsCursor(t *testing.T) {
	src := &mockSource{err: errors.New("connection refused")}
	p, r, _ := newTestPoller(src)
	r.Update(func(s *replica.State) error { s.Cursor = 5; return nil })

	if _, err := p.PollOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if r.Cursor() != 5 {
		t.Errorf("Cursor() = %d, want 5", r.Cursor())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &mockSource{}
	p, _, _ := newTestPoller(src)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_RetriesAfterFailure(t *testing.T) {
	src := &mockSource{err: errors.New("boom")}
	r := replica.New()
	p := New(src, r, Config{Window: time.Second, RetryDelay: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(src.requested()) < 3 {
		select {
		case <-deadline:
			t.Fatal("poller did not retry")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
