package vault

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T, files map[string]string) *Vault {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for p, content := range files {
		require.NoError(t, afero.WriteFile(fsys, p, []byte(content), 0o644))
	}
	clock := func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return New(fsys, WithClock(clock))
}

func TestStat(t *testing.T) {
	v := newTestVault(t, map[string]string{"img/Photo.PNG": "12345"})

	f, err := v.Stat("/img/Photo.PNG")
	require.NoError(t, err)
	assert.Equal(t, File{Path: "img/Photo.PNG", Name: "Photo.PNG", Ext: "png", Size: 5}, f)

	_, err = v.Stat("img")
	assert.Error(t, err)
	_, err = v.Stat("missing.png")
	assert.Error(t, err)
}

func TestDocumentsAndFolder(t *testing.T) {
	v := newTestVault(t, map[string]string{
		"a.md":              "",
		"notes/b.md":        "",
		"notes/c.png":       "",
		"notes/deep/d.pdf":  "",
		".trash/old.md":     "",
		"notes/.hidden/e.z": "",
	})

	docs, err := v.Documents()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "notes/b.md"}, paths(docs))

	flat, err := v.Folder("notes", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/c.png"}, paths(flat))

	deep, err := v.Folder("notes", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes/c.png", "notes/deep/d.pdf"}, paths(deep))

	_, err = v.Folder("a.md", false)
	assert.Error(t, err)
}

func TestMoveTo(t *testing.T) {
	v := newTestVault(t, map[string]string{
		"img.png":                      "new",
		"other/img.png":                "other",
		"Uploaded_Attachments/img.png": "old",
		"readme":                       "x",
	})

	target, err := v.MoveTo("img.png", "Uploaded_Attachments")
	require.NoError(t, err)
	assert.Equal(t, "Uploaded_Attachments/img_20240506070809.png", target)
	assert.False(t, v.Exists("img.png"))

	old, err := v.Read("Uploaded_Attachments/img.png")
	require.NoError(t, err)
	assert.Equal(t, "old", old)

	target, err = v.MoveTo("other/img.png", "fresh/folder")
	require.NoError(t, err)
	assert.Equal(t, "fresh/folder/img.png", target)

	target, err = v.Trash("readme")
	require.NoError(t, err)
	assert.Equal(t, ".trash/readme", target)

	require.NoError(t, v.Write("readme", "again"))
	target, err = v.Trash("readme")
	require.NoError(t, err)
	assert.Equal(t, ".trash/readme_20240506070809", target)
}

func TestMoveMissingFile(t *testing.T) {
	v := newTestVault(t, nil)
	_, err := v.MoveTo("nope.png", "dest")
	assert.Error(t, err)
}

func paths(files []File) []string {
	var out []string
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func TestUpdate(t *testing.T) {
	v := newTestVault(t, map[string]string{"doc.md": "hello"})

	changed, err := v.Update("doc.md", func(s string) string { return s })
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = v.Update("doc.md", func(s string) string { return s + " world" })
	require.NoError(t, err)
	assert.True(t, changed)
	content, _ := v.Read("doc.md")
	assert.Equal(t, "hello world", content)

	_, err = v.Update("missing.md", func(s string) string { return s })
	assert.Error(t, err)
}
