package input

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile2site/internal/record"
)

func TestReadKnownColumns(t *testing.T) {
	data := "\ufeffCompany_Name,Clutch_Profile_URL,rank\n" +
		"Andersen,https://clutch.co/profile/andersen,1\n" +
		"\n" +
		"  Acme , https://clutch.co/profile/acme ,2\n"

	rows, err := Read(strings.NewReader(data), Options{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, record.Row{ID: "https://clutch.co/profile/andersen", Name: "Andersen", Line: 2}, rows[0])
	assert.Equal(t, "https://clutch.co/profile/acme", rows[1].ID)
	assert.Equal(t, "Acme", rows[1].Name)
	assert.Equal(t, 4, rows[1].Line)
}

func TestReadTargetColumn(t *testing.T) {
	data := "identifier,target_url\nA,https://example.com/a\n"

	rows, err := Read(strings.NewReader(data), Options{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0].ID)
	assert.Equal(t, "https://example.com/a", rows[0].Target)
}

func TestReadOverrideColumn(t *testing.T) {
	data := "Link,url\nhttps://x.test/1,https://ignored.test\n"

	rows, err := Read(strings.NewReader(data), Options{IDColumn: "link"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://x.test/1", rows[0].ID)
}

func TestReadRejectsBlankIdentifier(t *testing.T) {
	data := "company_name,profile_url\nAcme,https://x.test/1\nOnly a name\n"

	_, err := Read(strings.NewReader(data), Options{})
	var malformed *record.MalformedInputError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, 3, malformed.Line)
	assert.Equal(t, "row has no identifier", malformed.Reason)
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
		opts Options
	}{
		{"empty file", "", Options{}},
		{"no identifier column", "company,website\nA,B\n", Options{}},
		{"override not present", "url\nA\n", Options{IDColumn: "link"}},
		{"bad quoting", "url\n\"unterminated\n", Options{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.data), tt.opts)
			var malformed *record.MalformedInputError
			assert.True(t, errors.As(err, &malformed), "got %v", err)
		})
	}
}

func TestReadFileSetsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("nothing,here\n"), 0o644))

	_, err := ReadFile(path, Options{})
	var malformed *record.MalformedInputError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, path, malformed.Path)

	blankID := filepath.Join(t.TempDir(), "blank.csv")
	require.NoError(t, os.WriteFile(blankID, []byte("name,url\nAcme,\n"), 0o644))
	_, err = ReadFile(blankID, Options{})
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, blankID, malformed.Path)
	assert.Equal(t, 2, malformed.Line)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	assert.True(t, errors.As(err, &malformed))
}
