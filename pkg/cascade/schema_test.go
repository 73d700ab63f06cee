package cascade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
models:
  - name: Author
    table: authors
    primaryKey: id
    fields:
      - name: id
      - name: publisherId
        column: publisher_id
    relations:
      books:
        type: hasMany
        target: books
        foreignKey: author_id
        options:
          destroyOnDelete: true
      publisher:
        type: belongsTo
        target: publishers
        foreignKey: publisher_id
      tags:
        type: hasAndBelongsToMany
        target: tags
        through: author_tags
        foreignKey: author_id
    settings:
      relations:
        tags:
          destroyOnDelete: true
`

func TestParseSchema(t *testing.T) {
	models, err := ParseSchema([]byte(testSchema))
	require.NoError(t, err)
	require.Len(t, models, 1)

	m := models[0]
	assert.Equal(t, "Author", m.Name)
	assert.Equal(t, "authors", m.TableName())
	assert.Equal(t, "publisher_id", m.Fields["publisherId"].ColumnName())
	assert.Equal(t, HasAndBelongsToMany, m.Relations["tags"].Type)
	assert.Equal(t, "author_tags", m.Relations["tags"].Through)

	assert.True(t, IsEligible(m, "books", DefaultOptionKey))
	assert.False(t, IsEligible(m, "publisher", DefaultOptionKey))
	assert.True(t, IsEligible(m, "tags", DefaultOptionKey), "enabled through settings")
}

func TestParseSchema_Errors(t *testing.T) {
	_, err := ParseSchema([]byte("models:\n  - name: A\n    relations:\n      x:\n        type: manyToSome\n"))
	assert.True(t, IsUnknownRelationType(err))

	_, err = ParseSchema([]byte("models:\n  - table: a\n"))
	assert.True(t, IsInvalidSchema(err))

	_, err = ParseSchema([]byte("models:\n  - name: A\n  - name: A\n"))
	assert.True(t, IsInvalidSchema(err))

	_, err = ParseSchema([]byte("models: [unterminated"))
	assert.True(t, IsInvalidSchema(err))
}

func TestLoadSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0o644))

	models, err := LoadSchemaFile(path)
	require.NoError(t, err)
	assert.Len(t, models, 1)

	_, err = LoadSchemaFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
