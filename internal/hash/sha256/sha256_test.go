package sha256

import "testing"

// TestHasherDigestsPayload ensures identical payloads yield the same prefixed digest.
func TestHasherDigestsPayload(t *testing.T) {
	t.Parallel()

	h := New()
	body := []byte(`{"observations":[{"date":"2024-01-01","value":"3.7"}]}`)
	got, err := h.Hash(body)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if len(got) != len(Prefix)+64 || got[:len(Prefix)] != Prefix {
		t.Fatalf("unexpected digest format %q", got)
	}
	again, err := h.Hash(append([]byte(nil), body...))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic digest, got %s vs %s", got, again)
	}

	want := "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if hw, _ := h.Hash([]byte("hello world")); hw != want {
		t.Fatalf("expected %s, got %s", want, hw)
	}
}

func TestHasherEmptyPayload(t *testing.T) {
	t.Parallel()

	got, err := New().Hash(nil)
	if err != nil || got != "" {
		t.Fatalf("Hash(nil) = %q, %v; want empty", got, err)
	}
}
