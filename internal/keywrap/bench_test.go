package keywrap

import (
	"testing"

	"github.com/keeptower/keeptower/internal/crypto"
)

// BenchmarkDeriveKEKPBKDF2 measures one slot unlock at the default work factor.
func BenchmarkDeriveKEKPBKDF2(b *testing.B) {
	salt, _ := GenerateRandomSalt()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		kek, _ := DeriveKEKFromPassword("benchmark-passphrase", salt, crypto.DefaultPBKDF2Iterations)
		crypto.Zeroize(kek)
	}
}

func BenchmarkDeriveKEKArgon2id(b *testing.B) {
	salt, _ := GenerateRandomSalt()

	for _, tc := range []struct {
		name   string
		params Argon2Params
	}{
		{"64MB", Argon2Params{MemoryKiB: 64 * 1024, Time: 3, Parallelism: 4}},
		{"128MB", Argon2Params{MemoryKiB: 128 * 1024, Time: 3, Parallelism: 4}},
	} {
		b.Run(tc.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				kek := DeriveKEKArgon2id("benchmark", salt, tc.params)
				crypto.Zeroize(kek)
			}
		})
	}
}

func BenchmarkWrapUnwrap(b *testing.B) {
	kek, _ := GenerateRandomDEK()
	dek, _ := GenerateRandomDEK()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapped, err := WrapKey(kek, dek)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := UnwrapKey(kek, wrapped); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkZeroize(b *testing.B) {
	data := make([]byte, KEKSize)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		crypto.Zeroize(data)
	}
}
