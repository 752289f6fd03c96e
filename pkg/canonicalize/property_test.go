//go:build property
// +build property

package canonicalize_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/gate/pkg/canonicalize"
)

// objectJSON renders key/value pairs as a JSON object in the given order.
func objectJSON(keys, values []string) json.RawMessage {
	obj := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			obj = append(obj, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(values[i])
		obj = append(obj, kb...)
		obj = append(obj, ':')
		obj = append(obj, vb...)
	}
	return append(obj, '}')
}

func dedupe(keys, values []string) ([]string, []string) {
	seen := make(map[string]bool)
	var ks, vs []string
	for i := 0; i < len(keys) && i < len(values); i++ {
		if seen[keys[i]] {
			continue
		}
		seen[keys[i]] = true
		ks = append(ks, keys[i])
		vs = append(vs, values[i])
	}
	return ks, vs
}

// Property: CanonicalHash(obj) is invariant under object-key reordering.
func TestCanonicalHashKeyOrderInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("hash ignores key insertion order", prop.ForAll(
		func(keys []string, values []string) bool {
			ks, vs := dedupe(keys, values)

			rk := make([]string, len(ks))
			rv := make([]string, len(vs))
			for i := range ks {
				rk[len(ks)-1-i] = ks[i]
				rv[len(vs)-1-i] = vs[i]
			}

			h1, err1 := canonicalize.CanonicalHash(objectJSON(ks, vs))
			h2, err2 := canonicalize.CanonicalHash(objectJSON(rk, rv))
			if err1 != nil || err2 != nil {
				return false
			}
			return h1 == h2 && canonicalize.IsDigest(h1)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AnyString()),
	))

	properties.Property("distinct values give distinct hashes", prop.ForAll(
		func(a, b string) bool {
			if a == b {
				return true
			}
			h1, _ := canonicalize.CanonicalHash(map[string]string{"v": a})
			h2, _ := canonicalize.CanonicalHash(map[string]string{"v": b})
			return h1 != h2
		},
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
