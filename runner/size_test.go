package runner

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"
)

func TestSize_Set(t *testing.T) {
	tests := []struct {
		in   string
		want Size
	}{
		{"1024", 1 << 10},
		{"64MiB", 64 << 20},
		{"64m", 64 << 20},
		{"512k", 512 << 10},
		{"1g", 1 << 30},
		{"2GB", 2 << 30},
	}
	for _, tt := range tests {
		var s Size
		assert.NilError(t, s.Set(tt.in), tt.in)
		assert.Check(t, is.Equal(s, tt.want), tt.in)
	}

	var s Size
	assert.Check(t, s.Set("abc") != nil)
	assert.Check(t, s.Set("") != nil)
}

func TestSize_String(t *testing.T) {
	assert.Check(t, is.Equal(Size(64<<20).String(), "64MiB"))
	assert.Check(t, is.Equal(Size(100).String(), "100B"))
	assert.Check(t, is.Equal(Size(3<<30).Byte(), uint64(3<<30)))
}

// whole MiB sizes survive String and Set
func TestSize_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mib := rapid.Uint64Range(1, 1<<20).Draw(t, "mib")
		s := Size(mib << 20)

		var got Size
		if err := got.UnmarshalText([]byte(s.String())); err != nil {
			t.Fatalf("parse %q: %v", s.String(), err)
		}
		// BytesSize keeps 4 significant digits
		if diff := int64(got) - int64(s); diff > int64(s)/1000 || -diff > int64(s)/1000 {
			t.Fatalf("round trip %d -> %q -> %d", s, s.String(), got)
		}
	})
}
