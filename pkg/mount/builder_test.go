package mount

import (
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder().
		WithBind("/src", "/dst", true).
		WithTmpfs("/tmp", "size=64m")
	assert.Assert(t, is.Len(b.Mounts, 2))

	assert.Check(t, b.Mounts[0].IsBindMount())
	assert.Check(t, b.Mounts[0].IsReadOnly())
	assert.Check(t, b.Mounts[1].IsTmpFs())
	assert.Check(t, is.Equal(b.Mounts[1].Data, "size=64m"))

	s := b.String()
	assert.Check(t, strings.HasPrefix(s, "Mounts: "))
	assert.Check(t, is.Contains(s, "tmpfs[/tmp]"))
}

func TestBuilder_WithBindSpec(t *testing.T) {
	b := NewBuilder()
	assert.NilError(t, b.WithBindSpec("/etc/resolv.conf:/etc/resolv.conf:ro"))
	assert.NilError(t, b.WithBindSpec("/data:/mnt"))
	assert.Check(t, b.Mounts[0].IsReadOnly())
	assert.Check(t, !b.Mounts[1].IsReadOnly())

	for _, bad := range []string{"", "/a", "/a:/b:x", ":/b", "/a:/b:ro:extra"} {
		assert.Check(t, b.WithBindSpec(bad) != nil, bad)
	}
}
