package loader

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/54b3r/kbgraph-go/internal/apperr"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRegistry_Load(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		file     string
		content  string
		contains []string
		absent   []string
	}{
		{
			name:     "plain text",
			file:     "note.txt",
			content:  "hello hello world",
			contains: []string{"hello hello world"},
		},
		{
			name:     "upper-case extension",
			file:     "NOTE.TXT",
			content:  "shouting",
			contains: []string{"shouting"},
		},
		{
			name:     "markdown strips markup",
			file:     "readme.md",
			content:  "# Title\n\nSome **bold** text and a [link](https://example.com).\n\n```go\nfmt.Println(1)\n```\n",
			contains: []string{"Title", "Some bold text and a link.", "fmt.Println(1)"},
			absent:   []string{"**", "https://example.com", "```"},
		},
		{
			name:     "csv renders header value pairs",
			file:     "people.csv",
			content:  "name,role\nada,engineer\ngrace,admiral\n",
			contains: []string{"name: ada\nrole: engineer", "name: grace\nrole: admiral"},
		},
		{
			name:     "json flattens paths in document order",
			file:     "doc.json",
			content:  `{"kb":{"name":"docs","tags":["a","b"]},"count":2}`,
			contains: []string{"kb.name: docs\nkb.tags[0]: a\nkb.tags[1]: b\ncount: 2\n"},
		},
		{
			name:     "html keeps blocks and drops scripts",
			file:     "page.html",
			content:  "<html><head><title>Page</title><script>var x=1;</script></head><body><h1>Heading</h1><p>First para</p><ul><li>item</li></ul></body></html>",
			contains: []string{"Page", "Heading", "First para", "item"},
			absent:   []string{"var x"},
		},
	}

	reg := Default()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := reg.Load(writeFile(t, tc.file, tc.content))
			require.NoError(t, err)
			for _, want := range tc.contains {
				assert.Contains(t, got, want)
			}
			for _, bad := range tc.absent {
				assert.NotContains(t, got, bad)
			}
		})
	}
}

func TestRegistry_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	reg := Default()
	for _, name := range []string{"image.png", "archive.tar.gz", "noext"} {
		_, err := reg.Load(writeFile(t, name, "x"))
		require.ErrorIs(t, err, apperr.ErrUnsupportedFormat, name)
		assert.False(t, reg.Supports(name))
	}
	assert.True(t, reg.Supports("report.PDF"))
}

func TestRegistry_Extensions(t *testing.T) {
	t.Parallel()

	exts := Default().Extensions()
	for _, want := range []string{"csv", "docx", "html", "json", "md", "pdf", "txt", "xlsx"} {
		assert.Contains(t, exts, want)
	}
	assert.IsNonDecreasing(t, exts)
}

func TestRegistry_CustomLoader(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(".LOG", Func(func(path string) (string, error) {
		return "custom:" + filepath.Base(path), nil
	}))
	got, err := reg.Load("/tmp/server.log")
	require.NoError(t, err)
	assert.Equal(t, "custom:server.log", got)
}

func TestLoadJSON_Invalid(t *testing.T) {
	t.Parallel()

	_, err := Default().Load(writeFile(t, "bad.json", "{not json"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrUnsupportedFormat)
}

func TestLoadDOCX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>First</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve"> paragraph</w:t></w:r></w:p>
<w:p><w:r><w:t>Second</w:t><w:br/><w:t>line</w:t></w:r></w:p>
</w:body>
</w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	got, err := Default().Load(path)
	require.NoError(t, err)
	assert.Equal(t, "First\t paragraph\nSecond\nline\n", got)
}

func TestLoadDOCX_MissingDocument(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, zip.NewWriter(f).Close())
	require.NoError(t, f.Close())

	_, err = Default().Load(path)
	require.ErrorContains(t, err, "word/document.xml not found")
}

func TestLoadXLSX(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	x := excelize.NewFile()
	require.NoError(t, x.SetCellValue("Sheet1", "A1", "city"))
	require.NoError(t, x.SetCellValue("Sheet1", "B1", "country"))
	require.NoError(t, x.SetCellValue("Sheet1", "A2", "Xuzhou"))
	require.NoError(t, x.SetCellValue("Sheet1", "B2", "China"))
	require.NoError(t, x.SaveAs(path))
	require.NoError(t, x.Close())

	got, err := Default().Load(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "Sheet: Sheet1\n"))
	assert.Contains(t, got, "city: Xuzhou\ncountry: China")
}

func TestLoadPDF_Corrupt(t *testing.T) {
	t.Parallel()

	_, err := Default().Load(writeFile(t, "broken.pdf", "%PDF-nope"))
	require.Error(t, err)
}

func TestRenderTable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", renderTable(nil))
	assert.Equal(t, "only header", renderTable([][]string{{"only", "header"}}))
	assert.Equal(t, "a: 1\ncolumn2: 2\n", renderTable([][]string{{"a"}, {"1", "2"}}))
}
