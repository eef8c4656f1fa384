package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FuzzVerify feeds arbitrary bytes to Verify. A result must either be
// valid with consistent counts or name the failing line.
func FuzzVerify(f *testing.F) {
	path := filepath.Join(f.TempDir(), "seed.jsonl")
	l, err := Open(path)
	if err != nil {
		f.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		_ = l.Record(benchEntry(i))
	}
	l.Close()
	seed, _ := os.ReadFile(path)

	f.Add(seed)
	f.Add([]byte{})
	f.Add([]byte(`{"request_id":"q-1","attempt":1,"decision":"allow","prev_hash":"` + GenesisHash + `"}` + "\n"))
	f.Add([]byte(strings.Replace(string(seed), "allow", "deny", 1)))
	f.Add([]byte("not json\n"))

	f.Fuzz(func(t *testing.T, data []byte) {
		p := filepath.Join(t.TempDir(), "fuzz.jsonl")
		if err := os.WriteFile(p, data, 0o600); err != nil {
			t.Fatal(err)
		}
		res := Verify(p)
		if res.Valid {
			if res.Allowed+res.Denied != res.Entries {
				t.Fatalf("counts do not add up: %+v", res)
			}
			return
		}
		if res.Error == "" {
			t.Fatalf("invalid result without error: %+v", res)
		}
	})
}
