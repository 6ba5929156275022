package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/crudkit/internal/status"
)

func TestParseMeta(t *testing.T) {
	db := setupTestDB(t)

	meta, err := ParseMeta(db, &Team{})
	require.NoError(t, err)

	assert.Equal(t, "Team", meta.ClassName())
	assert.Equal(t, "teams", meta.Table)
	assert.Equal(t, "id", meta.PrimaryField())
	assert.Equal(t, "id", meta.PrimaryKey())
	assert.Equal(t, []string{"id", "name", "description", "level", "created_at"}, meta.ColumnFields())

	require.Len(t, meta.UniqueColumns(), 1)
	assert.Equal(t, "name", meta.UniqueColumns()[0].Field)
	assert.True(t, meta.ColumnByField("created_at").Auto)
	assert.True(t, meta.ColumnByField("level").Nullable)
	assert.True(t, meta.ColumnByField("level").Numeric)
	assert.False(t, meta.ColumnByField("name").Nullable)
	assert.Len(t, meta.LikeColumns(), 2)

	require.Len(t, meta.Relations, 1, "json:\"-\" relations are hidden")
	members := meta.RelationByField("members")
	require.NotNil(t, members)
	assert.True(t, members.Many)
	assert.Equal(t, "Member", members.Meta().ClassName())

	cached, ok := LookupMeta([]*Member{})
	require.True(t, ok)
	assert.Equal(t, "members", cached.Table)
}

func TestFilterAttrsByColumns(t *testing.T) {
	db := setupTestDB(t)
	repo := MustRepository[Team](db)

	tests := []struct {
		name string
		data map[string]any
		want map[string]any
	}{
		{
			name: "unknown and auto fields dropped",
			data: map[string]any{"name": "a", "color": "red", "created_at": "2024-01-01T00:00:00Z"},
			want: map[string]any{"name": "a"},
		},
		{
			name: "blank value skipped for not null column",
			data: map[string]any{"name": "  ", "description": "d"},
			want: map[string]any{"description": "d"},
		},
		{
			name: "nil skipped for not null column",
			data: map[string]any{"name": nil},
			want: map[string]any{},
		},
		{
			name: "blank numeric becomes nil",
			data: map[string]any{"level": ""},
			want: map[string]any{"level": nil},
		},
		{
			name: "nullable string keeps blank",
			data: map[string]any{"description": ""},
			want: map[string]any{"description": ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repo.FilterAttrsByColumns(tt.data))
		})
	}
}

func TestRepository_CreateInstance(t *testing.T) {
	db := setupTestDB(t)
	repo := MustRepository[Team](db)

	team, err := repo.CreateInstance(map[string]any{
		"name":    "core",
		"level":   3,
		"members": []any{map[string]any{"name": "ann", "unknown": 1}, "skip-me"},
	})
	require.NoError(t, err)

	assert.Equal(t, "core", team.Name)
	require.NotNil(t, team.Level)
	assert.Equal(t, 3, *team.Level)
	require.Len(t, team.Members, 1)
	assert.Equal(t, "ann", team.Members[0].Name)
}

func TestRepository_Add(t *testing.T) {
	db := setupTestDB(t)
	repo := MustRepository[Team](db)
	ctx := context.Background()

	team, err := repo.Add(ctx, map[string]any{
		"name":        "core",
		"description": "Core team",
		"members":     []any{map[string]any{"name": "ann"}, map[string]any{"name": "bob"}},
	})
	require.NoError(t, err)
	assert.NotZero(t, team.ID)
	assert.False(t, team.CreatedAt.IsZero())
	assert.Len(t, team.Members, 2)

	t.Run("duplicate unique value", func(t *testing.T) {
		_, err := repo.Add(ctx, map[string]any{"name": "core"})
		assert.True(t, status.IsCode(err, status.DBDataAlreadyExist))
	})

	t.Run("non map payload", func(t *testing.T) {
		_, err := repo.Add(ctx, []any{1, 2})
		assert.True(t, status.IsCode(err, status.BadRequest))

		_, err = repo.Add(ctx, nil)
		assert.True(t, status.IsCode(err, status.BadRequest))
	})
}

func TestRepository_Update(t *testing.T) {
	db := setupTestDB(t)
	repo := MustRepository[Team](db)
	ctx := context.Background()

	core, err := repo.Add(ctx, map[string]any{
		"name":        "core",
		"description": "Core team",
		"level":       1,
		"members":     []any{map[string]any{"name": "ann"}, map[string]any{"name": "bob"}},
	})
	require.NoError(t, err)
	_, err = repo.Add(ctx, map[string]any{"name": "edge"})
	require.NoError(t, err)

	t.Run("only given fields change", func(t *testing.T) {
		updated, err := repo.Update(ctx, map[string]any{"id": core.ID, "description": "changed"})
		require.NoError(t, err)
		assert.Equal(t, "core", updated.Name)
		assert.Equal(t, "changed", updated.Description)
		require.NotNil(t, updated.Level)
		assert.Equal(t, 1, *updated.Level)
		assert.Len(t, updated.Members, 2)
	})

	t.Run("zero values are written", func(t *testing.T) {
		updated, err := repo.Update(ctx, map[string]any{"id": core.ID, "description": "", "level": ""})
		require.NoError(t, err)
		assert.Equal(t, "", updated.Description)
		assert.Nil(t, updated.Level)
	})

	t.Run("relationship replaced", func(t *testing.T) {
		updated, err := repo.Update(ctx, map[string]any{
			"id":      core.ID,
			"members": []any{map[string]any{"name": "cid"}},
		})
		require.NoError(t, err)
		require.Len(t, updated.Members, 1)
		assert.Equal(t, "cid", updated.Members[0].Name)

		var count int64
		require.NoError(t, db.Model(&Member{}).Count(&count).Error)
		assert.EqualValues(t, 1, count)
	})

	t.Run("keeping own unique value", func(t *testing.T) {
		_, err := repo.Update(ctx, map[string]any{"id": core.ID, "name": "core"})
		assert.NoError(t, err)
	})

	t.Run("unique conflict", func(t *testing.T) {
		_, err := repo.Update(ctx, map[string]any{"id": core.ID, "name": "edge"})
		assert.True(t, status.IsCode(err, status.DBDataAlreadyExist))
	})

	t.Run("string key from url", func(t *testing.T) {
		updated, err := repo.Update(ctx, map[string]any{"id": "1", "description": "via url"})
		require.NoError(t, err)
		assert.Equal(t, "via url", updated.Description)
	})

	t.Run("missing row", func(t *testing.T) {
		_, err := repo.Update(ctx, map[string]any{"id": 999, "name": "ghost"})
		assert.True(t, status.IsCode(err, status.DBDataNotFound))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := repo.Update(ctx, map[string]any{"name": "ghost"})
		assert.True(t, status.IsCode(err, status.DBDataNotFound))
	})
}

func TestRepository_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := MustRepository[Team](db)
	ctx := context.Background()

	core, err := repo.Add(ctx, map[string]any{
		"name":    "core",
		"members": []any{map[string]any{"name": "ann"}},
	})
	require.NoError(t, err)
	used, err := repo.Add(ctx, map[string]any{"name": "used"})
	require.NoError(t, err)
	require.NoError(t, db.Create(&Project{Name: "p1", TeamID: used.ID}).Error)

	t.Run("row in use", func(t *testing.T) {
		_, err := repo.Delete(ctx, used.ID)
		assert.True(t, status.IsCode(err, status.DBDataInUse))
	})

	t.Run("cascades owned members", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, map[string]any{"id": core.ID})
		require.NoError(t, err)
		assert.Equal(t, "core", deleted.Name)

		var count int64
		require.NoError(t, db.Model(&Member{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("missing row", func(t *testing.T) {
		_, err := repo.Delete(ctx, core.ID)
		assert.True(t, status.IsCode(err, status.DBDataNotFound))
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := repo.Delete(ctx, nil)
		assert.True(t, status.IsCode(err, status.DBDataNotFound))
	})
}

type recordingHooks struct {
	NopHooks
	afterCalls int
	afterErr   error
}

func (h *recordingHooks) GetAddData(_ context.Context, data map[string]any) (map[string]any, error) {
	data["description"] = "via hook"
	return data, nil
}

func (h *recordingHooks) BeforeAdd(_ context.Context, data map[string]any) error {
	if data["name"] == "blocked" {
		return status.New("name_blocked", "Name is blocked")
	}
	return nil
}

func (h *recordingHooks) AfterAdd(_ context.Context, _ map[string]any, _ any, err error) {
	h.afterCalls++
	h.afterErr = err
}

func TestRepository_Hooks(t *testing.T) {
	db := setupTestDB(t)
	hooks := &recordingHooks{}
	repo := MustRepository[Team](db, WithHooks(hooks))
	ctx := context.Background()

	team, err := repo.Add(ctx, map[string]any{"name": "core"})
	require.NoError(t, err)
	assert.Equal(t, "via hook", team.Description)
	assert.Equal(t, 1, hooks.afterCalls)
	assert.NoError(t, hooks.afterErr)

	_, err = repo.Add(ctx, map[string]any{"name": "blocked"})
	code := status.From(err, status.DBAddErr)
	assert.Equal(t, "name_blocked", code.Key)
	assert.Equal(t, 2, hooks.afterCalls, "after hook runs on abort")
	assert.Error(t, hooks.afterErr)

	all, err := repo.QueryAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRepository_Queries(t *testing.T) {
	db := setupTestDB(t)
	teams := MustRepository[Team](db)
	members := MustRepository[Member](db)
	ctx := context.Background()

	core, err := teams.Add(ctx, map[string]any{
		"name":    "core",
		"members": []any{map[string]any{"name": "ann"}, map[string]any{"name": "zed"}},
	})
	require.NoError(t, err)

	t.Run("by pk", func(t *testing.T) {
		found, err := teams.QueryByPK(ctx, core.ID)
		require.NoError(t, err)
		assert.Equal(t, "core", found.Name)

		_, err = teams.QueryByPK(ctx, 404)
		assert.True(t, status.IsCode(err, status.DBDataNotFound))
	})

	t.Run("by fields", func(t *testing.T) {
		found, err := members.QueryBy(ctx, map[string]any{"team_id": core.ID})
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, "zed", found[0].Name, "default order is name descending")
		require.NotNil(t, found[0].Team, "belongs-to preloaded")
		assert.Equal(t, "core", found[0].Team.Name)

		first, err := members.QueryFirstBy(ctx, map[string]any{"name": "ann"})
		require.NoError(t, err)
		assert.Equal(t, "ann", first.Name)

		none, err := members.QueryFirstBy(ctx, map[string]any{"name": "nobody"})
		require.NoError(t, err)
		assert.Nil(t, none)

		_, err = members.QueryBy(ctx, map[string]any{"nope": 1})
		assert.True(t, status.IsCode(err, status.BadRequest))
	})

	t.Run("by unique key", func(t *testing.T) {
		found, err := teams.QueryByUniqueKey(ctx, map[string]any{"name": "core"})
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, core.ID, found.ID)

		none, err := teams.QueryByUniqueKey(ctx, map[string]any{"description": "x"})
		require.NoError(t, err)
		assert.Nil(t, none)
	})

	t.Run("all models", func(t *testing.T) {
		results, err := QueryAllModels(ctx, teams, members)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Len(t, results[0], 1)
		assert.Len(t, results[1], 2)
	})
}

func TestRepository_BulkOperations(t *testing.T) {
	db := setupTestDB(t)
	repo := MustRepository[Team](db)
	ctx := context.Background()

	require.NoError(t, repo.BulkAdd(ctx, []map[string]any{
		{"name": "a", "level": 1},
		{"name": "b", "level": 2},
		{"name": "c", "level": 2},
		{"name": "d", "level": 3},
	}))

	require.NoError(t, repo.BulkUpdate(ctx, []map[string]any{
		{"id": 1, "description": "first"},
		{"id": 999, "description": "ignored"},
		{"description": "no key"},
	}))
	first, err := repo.QueryByPK(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Description)

	deleted, err := repo.BulkDelete(ctx, []any{1, map[string]any{"level": 2}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)

	cleared, err := repo.ClearDB(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared)

	count, err := repo.Count(ctx, PSS{})
	require.NoError(t, err)
	assert.Zero(t, count)
}
