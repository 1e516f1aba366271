package ledger_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jmerrifield20/projectledger/internal/ledger"
)

// Property: the digest depends on content only, never on map construction order.
func TestDigestDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("digest ignores key insertion order", prop.ForAll(
		func(keys []string, values []int64) bool {
			forward := map[string]any{}
			backward := map[string]any{}
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			for i := 0; i < n; i++ {
				forward[keys[i]] = values[i]
			}
			for i := n - 1; i >= 0; i-- {
				if _, ok := backward[keys[i]]; !ok {
					// keep the last write per key, matching forward
					backward[keys[i]] = forward[keys[i]]
				}
			}

			h1, err1 := ledger.ComputeDigest("P", "X", forward, testTS, "u", ledger.GenesisHash)
			h2, err2 := ledger.ComputeDigest("P", "X", backward, testTS, "u", ledger.GenesisHash)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.Int64Range(-1<<40, 1<<40)),
	))

	properties.Property("stored canonical data reproduces the digest", prop.ForAll(
		func(project, actor, key, value string) bool {
			data := map[string]any{key: value}
			canon, err := ledger.CanonicalData(data)
			if err != nil {
				return false
			}
			h1, err1 := ledger.ComputeDigest(project, "X", data, testTS, actor, ledger.GenesisHash)
			h2, err2 := ledger.ComputeDigest(project, "X", canon, testTS, actor, ledger.GenesisHash)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.AnyString(),
		gen.AlphaString(),
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
