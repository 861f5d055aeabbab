package sortedset

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func members(elements []*Element) []string {
	out := make([]string, len(elements))
	for i, e := range elements {
		out[i] = e.Member
	}
	return out
}

func TestAddUpdatesScoreInPlace(t *testing.T) {
	ss := Make()
	assert.True(t, ss.Add("b", 2))
	assert.True(t, ss.Add("a", 1))
	assert.True(t, ss.Add("c", 3))
	assert.False(t, ss.Add("a", 5))
	assert.Equal(t, int64(3), ss.Len())

	e, ok := ss.Get("a")
	require.True(t, ok)
	assert.Equal(t, 5.0, e.Score)
	assert.Equal(t, []string{"b", "c", "a"}, members(ss.RangeByRank(0, 3, false)))
	assert.Equal(t, []string{"a", "c", "b"}, members(ss.RangeByRank(0, 3, true)))

	assert.True(t, ss.Remove("c"))
	assert.False(t, ss.Remove("c"))
	assert.Equal(t, []string{"b", "a"}, members(ss.RangeByRank(0, 2, false)))
}

func TestEqualScoresOrderByMember(t *testing.T) {
	ss := Make()
	for _, m := range []string{"d", "b", "a", "c"} {
		ss.Add(m, 1)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, members(ss.RangeByRank(0, 4, false)))

	rank, ok := ss.GetRank("c", false)
	require.True(t, ok)
	assert.Equal(t, int64(2), rank)
	rank, ok = ss.GetRank("c", true)
	require.True(t, ok)
	assert.Equal(t, int64(1), rank)

	// 删除后排名要随之变化
	ss.Remove("a")
	rank, _ = ss.GetRank("c", false)
	assert.Equal(t, int64(1), rank)
	_, ok = ss.GetRank("a", false)
	assert.False(t, ok)
}

func TestRanksStayConsistentAtScale(t *testing.T) {
	ss := Make()
	const n = 500
	for i := n - 1; i >= 0; i-- {
		ss.Add("m"+strconv.Itoa(i), float64(i))
	}
	for i := 0; i < n; i += 37 {
		rank, ok := ss.GetRank("m"+strconv.Itoa(i), false)
		require.True(t, ok)
		assert.Equal(t, int64(i), rank)
	}
	page := ss.RangeByRank(100, 103, false)
	assert.Equal(t, []string{"m100", "m101", "m102"}, members(page))
	page = ss.RangeByRank(0, 2, true)
	assert.Equal(t, []string{"m499", "m498"}, members(page))
}

func TestRangeByScore(t *testing.T) {
	ss := Make()
	ss.Add("one", 1)
	ss.Add("two", 2)
	ss.Add("three", 3)
	ss.Add("eleven", 11)

	inf := Border{Value: math.Inf(1)}
	negInf := Border{Value: math.Inf(-1)}
	assert.Equal(t, []string{"two", "three"},
		members(ss.RangeByScore(Border{Value: 1, Exclude: true}, Border{Value: 3}, 0, -1, false)))
	assert.Equal(t, []string{"three", "two"},
		members(ss.RangeByScore(Border{Value: 1, Exclude: true}, Border{Value: 3}, 0, -1, true)))
	assert.Equal(t, []string{"two"},
		members(ss.RangeByScore(negInf, inf, 1, 1, false)))
	assert.Equal(t, []string{"three", "two"},
		members(ss.RangeByScore(negInf, Border{Value: 11, Exclude: true}, 0, 2, true)))
	assert.Empty(t, ss.RangeByScore(Border{Value: 20}, inf, 0, -1, true))
	assert.Empty(t, ss.RangeByScore(negInf, Border{Value: 0}, 0, -1, true))

	assert.Equal(t, int64(4), ss.Count(negInf, inf))
	assert.Equal(t, int64(1), ss.Count(Border{Value: 3}, Border{Value: 11, Exclude: true}))
}

func TestForEachStops(t *testing.T) {
	ss := Make()
	ss.Add("a", 1)
	ss.Add("b", 2)
	ss.Add("c", 3)
	var seen []string
	ss.ForEach(func(e *Element) bool {
		seen = append(seen, e.Member)
		return len(seen) < 2
	})
	assert.Equal(t, []string{"a", "b"}, seen)
}
