package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFullPath(t *testing.T) {
	cases := map[string]string{
		"/":              "/",
		"":               "/",
		"foo":            "/foo",
		"/foo/":          "/foo",
		"/foo//bar":      "/foo/bar",
		"/foo/./bar":     "/foo/bar",
		"/foo/bar/..":    "/foo",
		"\\foo\\bar":     "/foo/bar",
		"/a/b/../../c":   "/c",
		"/foo/bar/../..": "/",
	}

	for input, want := range cases {
		assert.Equal(t, want, NormalizeFullPath(input), "input: %q", input)
	}
}

func TestResolvePath(t *testing.T) {
	t.Run("relative paths resolve against the base", func(t *testing.T) {
		got, err := ResolvePath("/music", "ambient/drone.flac")
		require.NoError(t, err)
		assert.Equal(t, "/music/ambient/drone.flac", got)
	})

	t.Run("absolute paths ignore the base", func(t *testing.T) {
		got, err := ResolvePath("/music", "/videos/clip.mp4")
		require.NoError(t, err)
		assert.Equal(t, "/videos/clip.mp4", got)
	})

	t.Run("dotdot stays inside the sandbox", func(t *testing.T) {
		got, err := ResolvePath("/music/ambient", "../rock")
		require.NoError(t, err)
		assert.Equal(t, "/music/rock", got)
	})

	t.Run("escaping the root is a security error", func(t *testing.T) {
		for _, target := range []string{"../../etc/passwd", "/../x", "../.."} {
			_, err := ResolvePath("/", target)
			require.Error(t, err, "target: %q", target)
			assert.ErrorIs(t, err, ErrSecurity, "target: %q", target)
		}
	})

	t.Run("NUL bytes are an encoding error", func(t *testing.T) {
		_, err := ResolvePath("/", "bad\x00name")
		assert.ErrorIs(t, err, ErrEncoding)
	})
}

func TestParentAndBase(t *testing.T) {
	assert.Equal(t, "/", ParentPath("/"))
	assert.Equal(t, "/", ParentPath("/foo"))
	assert.Equal(t, "/foo", ParentPath("/foo/bar"))

	assert.Equal(t, "", BaseName("/"))
	assert.Equal(t, "foo", BaseName("/foo"))
	assert.Equal(t, "bar", BaseName("/foo/bar/"))
}

func TestIsAncestor(t *testing.T) {
	assert.True(t, IsAncestor("/", "/foo"))
	assert.True(t, IsAncestor("/foo", "/foo/bar"))
	assert.True(t, IsAncestor("/foo", "/foo/bar/baz"))
	assert.False(t, IsAncestor("/foo", "/foo"))
	assert.False(t, IsAncestor("/foo", "/foobar"))
	assert.False(t, IsAncestor("/foo/bar", "/foo"))
}

func TestSplitPathSegments(t *testing.T) {
	assert.Empty(t, SplitPathSegments("/"))
	assert.Equal(t, []string{"a", "b"}, SplitPathSegments("/a//b/"))
}
