package intern

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"unsafe"
)

func sameData(a, b string) bool {
	return unsafe.StringData(a) == unsafe.StringData(b)
}

func TestInternReturnsCanonicalCopy(t *testing.T) {
	in := New()
	a := in.Intern(strings.Repeat("bazel-out/", 3))
	b := in.Intern(strings.Repeat("bazel-out/", 3))
	if a != b {
		t.Fatalf("interned values differ: %q vs %q", a, b)
	}
	if !sameData(a, b) {
		t.Error("equal strings should share one backing array")
	}
	if in.Len() != 1 {
		t.Errorf("Len = %d, want 1", in.Len())
	}
}

func TestInternDoesNotAliasCallerBuffer(t *testing.T) {
	in := New()
	big := "prefix-" + strings.Repeat("x", 1024)
	sub := big[:6]
	got := in.Intern(sub)
	if sameData(got, big) {
		t.Error("canonical copy should not alias the caller's buffer")
	}
}

func TestInternEmpty(t *testing.T) {
	in := New()
	if in.Intern("") != "" {
		t.Error("empty string should intern to empty")
	}
	if in.Len() != 0 {
		t.Errorf("Len = %d, want 0", in.Len())
	}
}

func TestInternAll(t *testing.T) {
	in := New()
	first := in.Intern("bin")
	ss := in.InternAll([]string{"bazel-out", strings.Clone("bin")})
	if !sameData(ss[1], first) {
		t.Error("InternAll should replace elements with canonical copies")
	}
}

func TestInternConcurrent(t *testing.T) {
	in := New()
	const workers = 8
	const distinct = 500

	results := make([][]string, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out := make([]string, distinct)
			for i := 0; i < distinct; i++ {
				out[i] = in.Intern(fmt.Sprintf("file-%d.txt", i))
			}
			results[w] = out
		}(w)
	}
	wg.Wait()

	if in.Len() != distinct {
		t.Fatalf("Len = %d, want %d", in.Len(), distinct)
	}
	for w := 1; w < workers; w++ {
		for i := 0; i < distinct; i++ {
			if !sameData(results[0][i], results[w][i]) {
				t.Fatalf("worker %d got a non-canonical copy of %q", w, results[w][i])
			}
		}
	}
}
