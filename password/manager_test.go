package password

import (
	"errors"
	"strings"
	"testing"
)

func testArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func newArgonManager(t *testing.T, params Argon2Params) *Manager {
	t.Helper()
	m, err := NewManager(Config{Algorithm: AlgorithmArgon2id, Argon2: params})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return m
}

func TestHashAndVerify(t *testing.T) {
	m := newArgonManager(t, testArgon2Params())

	hash, err := m.Hash("P@ssw0rd-Ascii")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := m.Verify("P@ssw0rd-Ascii", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !ok {
		t.Fatal("expected password verification to succeed")
	}
}

func TestHashIsSalted(t *testing.T) {
	m := newArgonManager(t, testArgon2Params())

	first, err := m.Hash("same-input-twice")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	second, err := m.Hash("same-input-twice")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if first == second {
		t.Fatal("expected two hashes of the same password to differ")
	}
}

func TestVerifyWrongPassword(t *testing.T) {
	m := newArgonManager(t, testArgon2Params())

	hash, err := m.Hash("correct-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	ok, err := m.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong password verification to fail")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	m := newArgonManager(t, testArgon2Params())

	for _, encoded := range []string{
		"not-a-phc-hash",
		"$argon2id$v=19$m=8192,t=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaA",
	} {
		ok, err := m.Verify("password", encoded)
		if err == nil || ok {
			t.Fatalf("expected %q to be rejected, got ok=%v err=%v", encoded, ok, err)
		}
	}
}

func TestNeedsRehashWeakerParams(t *testing.T) {
	old := newArgonManager(t, testArgon2Params())
	hash, err := old.Hash("test-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := testArgon2Params()
	stronger.Time = 2
	current := newArgonManager(t, stronger)

	needs, err := current.NeedsRehash(hash)
	if err != nil {
		t.Fatalf("NeedsRehash error: %v", err)
	}
	if !needs {
		t.Fatal("expected NeedsRehash for weaker parameters")
	}

	needs, err = old.NeedsRehash(hash)
	if err != nil {
		t.Fatalf("NeedsRehash error: %v", err)
	}
	if needs {
		t.Fatal("expected no rehash for current parameters")
	}
}

func TestBcryptHashesVerifyUnderArgonManager(t *testing.T) {
	legacy, err := NewManager(Config{Algorithm: AlgorithmBcrypt, BcryptCost: 4})
	if err != nil {
		t.Fatalf("NewManager(bcrypt) error: %v", err)
	}
	hash, err := legacy.Hash("legacy-password")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$04$") {
		t.Fatalf("unexpected bcrypt prefix: %s", hash)
	}

	current := newArgonManager(t, testArgon2Params())
	ok, err := current.Verify("legacy-password", hash)
	if err != nil || !ok {
		t.Fatalf("expected bcrypt hash to verify, ok=%v err=%v", ok, err)
	}
	needs, err := current.NeedsRehash(hash)
	if err != nil {
		t.Fatalf("NeedsRehash error: %v", err)
	}
	if !needs {
		t.Fatal("expected bcrypt hash to need rehash under argon2id")
	}
}

func TestBcryptRejectsLongPasswords(t *testing.T) {
	m, err := NewManager(Config{Algorithm: AlgorithmBcrypt, BcryptCost: 4})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if _, err := m.Hash(strings.Repeat("a", 73)); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	cases := []Config{
		{Algorithm: "md5"},
		{Algorithm: AlgorithmArgon2id, Argon2: Argon2Params{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}},
		{Algorithm: AlgorithmBcrypt, BcryptCost: 2},
	}
	for _, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("expected config %+v to be rejected", cfg)
		}
	}
}
