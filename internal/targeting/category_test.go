package targeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorySetOperations(t *testing.T) {
	enemies := NewCategorySet(CategoryEnemy)
	props := NewCategorySet(CategoryProp)

	both := enemies.Union(props)
	assert.True(t, both.Has(CategoryEnemy))
	assert.True(t, both.Has(CategoryProp))
	assert.False(t, both.Has(CategorySelf))

	assert.Equal(t, enemies, both.Intersect(enemies))
	assert.Equal(t, props, both.Without(CategoryEnemy))
	assert.True(t, enemies.Intersect(props).Empty())
}

func TestAllOthersExcludesSelf(t *testing.T) {
	assert.False(t, AllOthers.Has(CategorySelf))
	assert.True(t, AllOthers.Has(CategoryFriendly))
	assert.True(t, AllOthers.Has(CategoryEnemy))
	assert.True(t, AllOthers.Has(CategoryProp))
	assert.True(t, AllCategories.Has(CategorySelf))
}

func TestParseCategorySet(t *testing.T) {
	set, err := ParseCategorySet([]string{"enemy", "prop"})
	require.NoError(t, err)
	assert.Equal(t, NewCategorySet(CategoryEnemy, CategoryProp), set)

	set, err = ParseCategorySet([]string{"all_others"})
	require.NoError(t, err)
	assert.Equal(t, AllOthers, set)

	_, err = ParseCategorySet([]string{"banana"})
	assert.Error(t, err)
}

func TestCategorySetString(t *testing.T) {
	assert.Equal(t, "none", CategorySet{}.String())
	assert.Equal(t, "enemy|prop", NewCategorySet(CategoryProp, CategoryEnemy).String())
}
