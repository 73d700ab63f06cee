package repository

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ammar0144/cascade4go/pkg/db"
)

type Author struct {
	ID      uint
	Name    string
	Posts   []Post   `cascade:"destroyOnDelete"`
	Profile *Profile `cascade:"destroyOnDelete"`
}

func (Author) TableName() string { return "authors" }

type Profile struct {
	ID       uint
	AuthorID uint
	Bio      string
}

func (Profile) TableName() string { return "profiles" }

type Post struct {
	ID       uint
	AuthorID uint
	Title    string
	Author   *Author   `cascade:"destroyOnDelete"`
	Comments []Comment `cascade:"destroyOnDelete"`
	Tags     []Tag     `gorm:"many2many:post_tags" cascade:"destroyOnDelete"`
	Notes    []Note    `gorm:"polymorphic:Owner" cascade:"destroyOnDelete"`
	Likes    []Like
}

func (Post) TableName() string { return "posts" }

type Comment struct {
	ID     uint
	PostID uint
	Body   string
}

func (Comment) TableName() string { return "comments" }

type Tag struct {
	ID   uint
	Name string
}

func (Tag) TableName() string { return "tags" }

type Note struct {
	ID        uint
	OwnerID   uint
	OwnerType string
	Text      string
}

func (Note) TableName() string { return "notes" }

type Like struct {
	ID     uint
	PostID uint
}

func (Like) TableName() string { return "likes" }

func sqliteManager(t *testing.T, opts ...db.ManagerOption) *db.Manager {
	t.Helper()

	cfg := db.DefaultConfig()
	cfg.Driver = db.DriverSQLite
	cfg.Database = ":memory:"
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.Logging.Level = "silent"

	m, err := db.NewManager(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.DB().AutoMigrate(
		&Author{}, &Profile{}, &Post{}, &Comment{}, &Tag{}, &Note{}, &Like{},
	))
	return m
}

// seed creates two authors. Everything hanging off author 1 is cascade
// material except tags and likes; author 2's data must survive.
func seed(t *testing.T, m *db.Manager) {
	t.Helper()
	gdb := m.DB()

	tags := []Tag{{ID: 1, Name: "go"}, {ID: 2, Name: "sql"}}
	require.NoError(t, gdb.Create(&tags).Error)

	require.NoError(t, gdb.Create(&Author{
		ID:      1,
		Name:    "ada",
		Profile: &Profile{ID: 1, Bio: "first"},
		Posts: []Post{
			{
				ID:       1,
				Title:    "one",
				Comments: []Comment{{ID: 1}, {ID: 2}},
				Tags:     tags,
				Notes:    []Note{{ID: 1, Text: "n1"}},
				Likes:    []Like{{ID: 1}},
			},
			{ID: 2, Title: "two", Comments: []Comment{{ID: 3}}},
		},
	}).Error)

	require.NoError(t, gdb.Create(&Author{
		ID:      2,
		Name:    "bob",
		Profile: &Profile{ID: 2},
		Posts:   []Post{{ID: 3, Title: "three", Comments: []Comment{{ID: 4}}, Tags: tags[:1]}},
	}).Error)

	// same owner id, different owner type
	require.NoError(t, gdb.Create(&Note{ID: 2, OwnerID: 1, OwnerType: "other"}).Error)
}

func count(t *testing.T, m *db.Manager, table string, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := m.DB().Table(table)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
