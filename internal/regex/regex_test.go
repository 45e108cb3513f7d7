package regex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetTriple(t *testing.T) {
	valid := []string{"x86_64-unknown-linux-musl", "aarch64-unknown-linux-gnu", "x86_64-apple-darwin", "thumbv7em-none-eabihf"}
	for _, triple := range valid {
		assert.True(t, TargetTriple.MatchString(triple), triple)
	}

	invalid := []string{"", "musl", "x86_64-linux", "X86_64-unknown-linux-musl", "x86_64-unknown-linux-musl; rm -rf /"}
	for _, triple := range invalid {
		assert.False(t, TargetTriple.MatchString(triple), triple)
	}
}

func TestRepository(t *testing.T) {
	assert.True(t, Repository.MatchString("demo-org/tf-demos"))
	assert.True(t, Repository.MatchString("a.b/c_d"))
	assert.False(t, Repository.MatchString("demo-org"))
	assert.False(t, Repository.MatchString("demo-org/tf/demos"))
	assert.False(t, Repository.MatchString("/tf-demos"))
}

func TestRustcVersion(t *testing.T) {
	tests := map[string]string{
		"rustc 1.80.0 (051478957 2024-07-21)":        "1.80.0",
		"rustc 1.82.0-nightly (abc 2024-08-01)":      "1.82.0-nightly",
		"rustc 1.81.0-beta.3 (8c2a0a1a8 2024-08-20)": "1.81.0-beta.3",
	}
	for input, want := range tests {
		m := RustcVersion.FindStringSubmatch(input)
		if assert.Len(t, m, 2, input) {
			assert.Equal(t, want, m[1])
		}
	}
	assert.Nil(t, RustcVersion.FindStringSubmatch("cargo 1.80.0"))
}
