package identity

import "testing"

// TestImageSetHashLiteral pins the hash of a known single-image set so the
// identity scheme can never drift silently.
func TestImageSetHashLiteral(t *testing.T) {
	got := ImageSetHash([]string{"dataset/335888/images/335888_A.jpg"})
	want := "f3cea20e9e37a9ae0b859d7369c14e6dc8744d20"
	if got != want {
		t.Errorf("ImageSetHash = %q, want %q", got, want)
	}
}

// TestJobIDLiteral pins the derived job id for the same known input.
func TestJobIDLiteral(t *testing.T) {
	hash := ImageSetHash([]string{"dataset/335888/images/335888_A.jpg"})
	got := JobID("335888", "default", "algo1", hash)
	want := "273934900923"
	if got != want {
		t.Errorf("JobID = %q, want %q", got, want)
	}
	if len(got) != JobIDLen {
		t.Errorf("JobID length = %d, want %d", len(got), JobIDLen)
	}
}

// TestImageSetHashOrderMatters verifies that selection order is part of the
// identity.
func TestImageSetHashOrderMatters(t *testing.T) {
	a := ImageSetHash([]string{"x.jpg", "y.jpg"})
	b := ImageSetHash([]string{"y.jpg", "x.jpg"})
	if a == b {
		t.Error("hash should depend on image order")
	}
}

// TestJobIDDeterministic verifies repeated derivation yields the same id.
func TestJobIDDeterministic(t *testing.T) {
	hash := ImageSetHash([]string{"a.jpg", "b.jpg"})
	first := JobID("p", "v", "algo", hash)
	for i := 0; i < 10; i++ {
		if got := JobID("p", "v", "algo", hash); got != first {
			t.Fatalf("JobID not deterministic: %q vs %q", got, first)
		}
	}
}

// TestJobIDDistinguishesFields verifies each tuple field contributes to the
// identity.
func TestJobIDDistinguishesFields(t *testing.T) {
	hash := ImageSetHash([]string{"a.jpg"})
	base := JobID("p", "v", "algo", hash)

	if JobID("p2", "v", "algo", hash) == base {
		t.Error("product id should change the job id")
	}
	if JobID("p", "v2", "algo", hash) == base {
		t.Error("variant should change the job id")
	}
	if JobID("p", "v", "algo2", hash) == base {
		t.Error("algo should change the job id")
	}
	if JobID("p", "v", "algo", ImageSetHash([]string{"b.jpg"})) == base {
		t.Error("image set should change the job id")
	}
}
