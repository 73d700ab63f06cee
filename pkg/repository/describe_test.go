package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/cascade4go/pkg/cascade"
)

type settingsPost struct {
	ID       uint
	AuthorID uint
	Likes    []Like `gorm:"foreignKey:PostID"`
}

func (settingsPost) TableName() string { return "posts" }

func (settingsPost) CascadeSettings() cascade.Settings {
	return cascade.Settings{Relations: map[string]map[string]any{"Likes": {"destroyOnDelete": true}}}
}

func TestDescribe(t *testing.T) {
	m := sqliteManager(t)

	model, err := Describe(m.DB(), &Post{})
	require.NoError(t, err)

	assert.Equal(t, "Post", model.Name)
	assert.Equal(t, "posts", model.Table)
	assert.Equal(t, "id", model.PrimaryKey)
	assert.Equal(t, cascade.Field{Name: "authorId", Column: "author_id"}, model.Fields["authorId"])
	assert.Equal(t, []string{"authorId"}, cascade.ForeignKeys(model.Fields))

	assert.Equal(t, cascade.Relation{
		Type:       cascade.HasMany,
		Target:     "comments",
		ForeignKey: "post_id",
		KeyFrom:    "id",
		Options:    map[string]any{"destroyOnDelete": true},
	}, model.Relations["Comments"])

	assert.Equal(t, cascade.Relation{
		Type:       cascade.HasAndBelongsToMany,
		Target:     "tags",
		Through:    "post_tags",
		ForeignKey: "post_id",
		KeyFrom:    "id",
		Options:    map[string]any{"destroyOnDelete": true},
	}, model.Relations["Tags"])

	notes := model.Relations["Notes"]
	assert.Equal(t, cascade.HasMany, notes.Type)
	assert.Equal(t, "owner_id", notes.ForeignKey)
	assert.Equal(t, map[string]any{"owner_type": "posts"}, notes.Match)

	author := model.Relations["Author"]
	assert.Equal(t, cascade.BelongsTo, author.Type)
	assert.Equal(t, "author_id", author.KeyFrom)

	likes := model.Relations["Likes"]
	assert.Nil(t, likes.Options)
	assert.False(t, cascade.IsEligible(model, "Likes", cascade.DefaultOptionKey))

	profile, err := Describe(m.DB(), &Author{})
	require.NoError(t, err)
	assert.Equal(t, cascade.HasOne, profile.Relations["Profile"].Type)
}

func TestDescribeSettings(t *testing.T) {
	m := sqliteManager(t)

	model, err := Describe(m.DB(), &settingsPost{})
	require.NoError(t, err)
	assert.True(t, cascade.IsEligible(model, "Likes", cascade.DefaultOptionKey))
}

func TestDescribeRejectsNonModels(t *testing.T) {
	m := sqliteManager(t)

	_, err := Describe(m.DB(), map[string]any{})
	assert.Error(t, err)

	_, err = Describe(nil, &Post{})
	assert.Error(t, err)
}

func TestParseTag(t *testing.T) {
	assert.Nil(t, parseTag(""))
	assert.Equal(t, map[string]any{"destroyOnDelete": true}, parseTag("destroyOnDelete"))
	assert.Equal(t, map[string]any{"destroyOnDelete": "false", "audit": true}, parseTag("destroyOnDelete:false; audit"))
}

func TestFieldName(t *testing.T) {
	assert.Equal(t, "id", fieldName("id"))
	assert.Equal(t, "authorId", fieldName("author_id"))
	assert.Equal(t, "ownerTypeId", fieldName("owner_type_id"))
	assert.Equal(t, "postId", fieldName("_post__id"))
}
