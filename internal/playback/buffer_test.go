package playback

import "testing"

func chunkOf(v float32, n int) []float32 {
	c := make([]float32, n)
	for i := range c {
		c[i] = v
	}
	return c
}

func TestPushEvictsOldest(t *testing.T) {
	b := NewBuffer(20, 4)
	for i := 0; i < 25; i++ {
		b.Push(chunkOf(float32(i), 4))
	}
	if b.Len() != 20 {
		t.Fatalf("expected 20 chunks, got %d", b.Len())
	}
	for want := 5; want < 25; want++ {
		got := b.Pull(4)
		if got[0] != float32(want) {
			t.Fatalf("expected chunk %d, got %v", want, got[0])
		}
	}
	st := b.Stats()
	if st.Dropped != 5 || st.Pushed != 25 || st.Depth != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestPullEmptyReturnsSilence(t *testing.T) {
	b := NewBuffer(0, 0)
	out := b.Pull(512)
	if len(out) != 512 {
		t.Fatalf("expected 512 samples, got %d", len(out))
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d not silent: %v", i, v)
		}
	}
	if b.Stats().Underruns != 1 {
		t.Fatalf("expected one underrun")
	}
}

func TestPullPadsShortChunk(t *testing.T) {
	b := NewBuffer(4, 8)
	b.Push([]float32{0.5, 0.5, 0.5})
	out := b.Pull(8)
	want := []float32{0.5, 0.5, 0.5, 0, 0, 0, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("index %d: got %v want %v", i, out[i], want[i])
		}
	}
	if b.Len() != 0 {
		t.Fatalf("chunk should be consumed")
	}
}

func TestPullCarriesRemainder(t *testing.T) {
	b := NewBuffer(4, 8)
	b.Push([]float32{1, 2, 3, 4, 5, 6})
	b.Push([]float32{7, 8})

	first := b.Pull(4)
	if first[0] != 1 || first[3] != 4 {
		t.Fatalf("unexpected first pull %v", first)
	}
	if b.Len() != 2 {
		t.Fatalf("head should stay buffered, len=%d", b.Len())
	}
	second := b.Pull(4)
	if second[0] != 5 || second[1] != 6 || second[2] != 0 || second[3] != 0 {
		t.Fatalf("pull must not span chunks, got %v", second)
	}
	third := b.Pull(4)
	if third[0] != 7 || third[1] != 8 {
		t.Fatalf("unexpected third pull %v", third)
	}
}

func TestEvictionResetsCursor(t *testing.T) {
	b := NewBuffer(2, 4)
	b.Push([]float32{1, 1, 1, 1})
	b.Pull(2)
	b.Push([]float32{2, 2, 2, 2})
	b.Push([]float32{3, 3, 3, 3})

	out := b.Pull(4)
	if out[0] != 2 || out[3] != 2 {
		t.Fatalf("expected full second chunk after eviction, got %v", out)
	}
}

func TestPushSplitsOversizedInput(t *testing.T) {
	b := NewBuffer(8, 4)
	b.Push(chunkOf(1, 10))
	if b.Len() != 3 {
		t.Fatalf("expected 3 slots, got %d", b.Len())
	}
}

func TestPushCopiesInput(t *testing.T) {
	b := NewBuffer(2, 4)
	in := []float32{1, 2, 3, 4}
	b.Push(in)
	in[0] = 99
	if out := b.Pull(4); out[0] != 1 {
		t.Fatalf("buffer aliases caller slice")
	}
}

func TestReset(t *testing.T) {
	b := NewBuffer(2, 4)
	b.Push(chunkOf(1, 4))
	b.Pull(4)
	b.Pull(4)
	b.Reset()
	if st := b.Stats(); st.Pushed != 0 || st.Underruns != 0 || st.Depth != 0 {
		t.Fatalf("reset left state %+v", st)
	}
}
