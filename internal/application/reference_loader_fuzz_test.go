package application

import (
	"context"
	"strings"
	"testing"

	"github.com/ahrav/go-anthro/internal/testutils"
)

// FuzzReferenceLoader checks that arbitrary input never panics the loader
// and that every accepted pack passes the overlap check.
func FuzzReferenceLoader(f *testing.F) {
	f.Add(testutils.ReferencePackYAML)
	f.Add("version: \"1.0.0\"\nmetadata:\n  name: x\n")
	f.Add("rules:\n  - {z_min: .nan}\n")
	f.Add("")

	f.Fuzz(func(t *testing.T, data string) {
		rl, err := NewReferenceLoader()
		if err != nil {
			t.Fatal(err)
		}
		ref, err := rl.LoadFromReader(context.Background(), strings.NewReader(data))
		if err != nil {
			return
		}
		for _, r := range ref.Rules {
			if !(r.ZMin < r.ZMax) {
				t.Fatalf("accepted rule with empty interval: %s", r)
			}
		}
	})
}
