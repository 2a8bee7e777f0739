package password

import (
	"errors"
	"strings"
	"testing"
)

// cheapConfig keeps argon2 cost low so the suite stays fast.
func cheapConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHash_RoundTrip(t *testing.T) {
	t.Parallel()

	cfg := cheapConfig()
	h, err := cfg.Hash("lantern plum orbit 77")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", h)
	}

	for pw, want := range map[string]bool{
		"lantern plum orbit 77": true,
		"lantern plum orbit 78": false,
		"":                      false,
	} {
		ok, err := cfg.Verify(h, pw)
		if err != nil || ok != want {
			t.Fatalf("Verify(%q) ok=%v err=%v want %v", pw, ok, err, want)
		}
	}

	again, _ := cfg.Hash("lantern plum orbit 77")
	if again == h {
		t.Fatalf("salt reuse: two hashes are identical")
	}
}

func TestVerify_RejectsUntrustedHashes(t *testing.T) {
	t.Parallel()

	cfg := cheapConfig()
	cases := map[string]string{
		"garbage":       "not-a-hash",
		"wrong variant": "$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"bad version":   "$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
		"oversized mem": "$argon2id$v=19$m=1048576,t=3,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5",
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			ok, err := cfg.Verify(h, "whatever")
			if ok || !errors.Is(err, ErrInvalidHash) {
				t.Fatalf("ok=%v err=%v want ErrInvalidHash", ok, err)
			}
		})
	}
}

func TestNeedsRehash(t *testing.T) {
	t.Parallel()

	cfg := cheapConfig()
	h, err := cfg.Hash("lantern plum orbit 77")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if cfg.NeedsRehash(h) {
		t.Fatalf("fresh hash flagged for rehash")
	}

	stronger := cfg
	stronger.Params.Iterations = 2
	if !stronger.NeedsRehash(h) {
		t.Fatalf("iteration bump not detected")
	}
	if !cfg.NeedsRehash("garbage") {
		t.Fatalf("malformed hash should be rehashed")
	}
}

func TestPlaceholderHash(t *testing.T) {
	t.Parallel()

	cfg := cheapConfig()
	h := cfg.PlaceholderHash()
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", h)
	}
	if cfg.NeedsRehash(h) {
		t.Fatalf("placeholder should carry the configured parameters")
	}

	odd := cfg
	odd.Params.SaltLength = 4
	for _, c := range []Config{cfg, odd} {
		ok, err := c.Verify(c.PlaceholderHash(), "lantern plum orbit 77")
		if err != nil || ok {
			t.Fatalf("Verify(placeholder) ok=%v err=%v", ok, err)
		}
	}
}
