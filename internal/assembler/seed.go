package assembler

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/wonny/charlie/backend/internal/contracts"
)

// Cutoff is the last instant of the as-of date (23:59:59 UTC).
// Every modality query is bounded by it.
func Cutoff(asOfDate time.Time) time.Time {
	y, m, d := asOfDate.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

// DateSeed hashes (ticker, as_of_date) to 64 bits
func DateSeed(ticker string, asOfDate time.Time) uint64 {
	key := strings.ToUpper(ticker) + "|" + asOfDate.Format(contracts.DateLayout)
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint64(sum[:8])
}

// VariationSeed derives the sampling seed of one variation.
// Depends only on its inputs, so results do not change with execution order or parallelism.
func VariationSeed(globalSeed int64, variationID int, dateSeed uint64) uint64 {
	s := splitmix64(uint64(globalSeed))
	s = splitmix64(s ^ uint64(variationID))
	return splitmix64(s ^ dateSeed)
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, splitmix64(seed)))
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// sampleWithoutReplacement picks k items keeping pool order. Returns the whole pool when it has k or fewer.
func sampleWithoutReplacement[T any](r *rand.Rand, pool []T, k int) []T {
	if k <= 0 {
		return nil
	}
	if len(pool) <= k {
		return append([]T(nil), pool...)
	}

	picked := r.Perm(len(pool))[:k]
	keep := make([]bool, len(pool))
	for _, i := range picked {
		keep[i] = true
	}

	out := make([]T, 0, k)
	for i, item := range pool {
		if keep[i] {
			out = append(out, item)
		}
	}
	return out
}
