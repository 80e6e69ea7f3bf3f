package crypto

import (
	"crypto/rand"
	"errors"
	"io"
	"math/big"
	"strings"
	"sync"
)

// Charset selects the alphabet used for generated account passwords.
type Charset string

const (
	CharsetAlpha    Charset = "alpha"
	CharsetAlnum    Charset = "alnum"
	CharsetAlnumSym Charset = "alnumsym"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{}<>?,.:;"
	// Characters easily confused when a password is read aloud or retyped.
	ambiguousChars = "0O1lI|"
)

var (
	ErrInvalidLength  = errors.New("length must be positive")
	ErrUnknownCharset = errors.New("unknown charset")
	ErrInvalidWords   = errors.New("word count must be positive")
)

var (
	randSource io.Reader = rand.Reader
	randMux    sync.RWMutex
)

var passphraseWords = []string{
	"anchor", "beacon", "canyon", "cobalt", "dream", "ember", "falcon", "forest",
	"galaxy", "glacier", "harbor", "island", "jungle", "kernel", "lantern", "meadow",
	"nebula", "ocean", "orchid", "prairie", "quartz", "raven", "river", "saddle",
	"summit", "temple", "thistle", "tundra", "valley", "walnut", "willow", "zephyr",
	"amber", "bramble", "cedar", "delta", "fjord", "granite", "hollow", "juniper",
}

// GeneratorOptions controls GeneratePasswordWithOptions.
type GeneratorOptions struct {
	Length           int
	Charset          Charset
	ExcludeAmbiguous bool
}

// SetRandomSource replaces the random source used by the generators.
// A nil reader restores crypto/rand.
func SetRandomSource(r io.Reader) {
	randMux.Lock()
	defer randMux.Unlock()
	if r == nil {
		randSource = rand.Reader
		return
	}
	randSource = r
}

func currentSource() io.Reader {
	randMux.RLock()
	defer randMux.RUnlock()
	return randSource
}

// GeneratePassword returns a random password of the given length drawn from charset.
func GeneratePassword(length int, charset Charset) (string, error) {
	return GeneratePasswordWithOptions(GeneratorOptions{Length: length, Charset: charset})
}

// GeneratePasswordWithOptions returns a random password according to opts.
func GeneratePasswordWithOptions(opts GeneratorOptions) (string, error) {
	if opts.Length <= 0 {
		return "", ErrInvalidLength
	}

	alphabet, err := alphabetFor(opts.Charset)
	if err != nil {
		return "", err
	}
	if opts.ExcludeAmbiguous {
		alphabet = strings.Map(func(r rune) rune {
			if strings.ContainsRune(ambiguousChars, r) {
				return -1
			}
			return r
		}, alphabet)
	}

	src := currentSource()
	max := big.NewInt(int64(len(alphabet)))

	var b strings.Builder
	b.Grow(opts.Length)
	for i := 0; i < opts.Length; i++ {
		n, err := rand.Int(src, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// GeneratePassphrase returns wordCount random words joined by sep.
func GeneratePassphrase(wordCount int, sep string) (string, error) {
	if wordCount <= 0 {
		return "", ErrInvalidWords
	}

	src := currentSource()
	max := big.NewInt(int64(len(passphraseWords)))

	words := make([]string, wordCount)
	for i := range words {
		n, err := rand.Int(src, max)
		if err != nil {
			return "", err
		}
		words[i] = passphraseWords[n.Int64()]
	}
	return strings.Join(words, sep), nil
}

func alphabetFor(charset Charset) (string, error) {
	switch charset {
	case CharsetAlpha:
		return lowerChars + upperChars, nil
	case CharsetAlnum, "":
		return lowerChars + upperChars + digitChars, nil
	case CharsetAlnumSym:
		return lowerChars + upperChars + digitChars + symbolChars, nil
	default:
		return "", ErrUnknownCharset
	}
}
