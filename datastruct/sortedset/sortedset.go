package sortedset

import "math/rand"

const maxLevel = 16 // 跳表的最大层数

// Element 有序集合中的一个成员
type Element struct {
	Member string
	Score  float64
}

// Level 跳表中的一层，span 为到下一个节点跨过的元素数
type Level struct {
	forward *node
	span    int64
}

type node struct {
	Element
	backward *node
	level    []*Level
}

// SortedSet 跳表按 (score, member) 升序排列，dict 按成员名索引节点
type SortedSet struct {
	header *node
	tail   *node
	length int64
	level  int
	dict   map[string]*node
}

func Make() *SortedSet {
	header := &node{level: make([]*Level, maxLevel)}
	for i := range header.level {
		header.level[i] = &Level{}
	}
	return &SortedSet{header: header, level: 1, dict: make(map[string]*node)}
}

// randomLevel 每升一层的概率为 1/4
func randomLevel() int {
	level := 1
	for float32(rand.Int31()&0xFFFF) < 0.25*0xFFFF {
		level++
		if level >= maxLevel {
			return maxLevel
		}
	}
	return level
}

// before n 是否排在 (score, member) 之前
func (n *node) before(score float64, member string) bool {
	return n.Score < score || (n.Score == score && n.Member < member)
}

func (ss *SortedSet) insert(member string, score float64) *node {
	var update [maxLevel]*node
	var rank [maxLevel]int64

	x := ss.header
	for i := ss.level - 1; i >= 0; i-- {
		if i < ss.level-1 {
			rank[i] = rank[i+1]
		}
		for x.level[i].forward != nil && x.level[i].forward.before(score, member) {
			rank[i] += x.level[i].span
			x = x.level[i].forward
		}
		update[i] = x
	}

	level := randomLevel()
	if level > ss.level {
		for i := ss.level; i < level; i++ {
			rank[i] = 0
			update[i] = ss.header
			update[i].level[i].span = ss.length
		}
		ss.level = level
	}

	n := &node{Element: Element{Member: member, Score: score}, level: make([]*Level, level)}
	for i := 0; i < level; i++ {
		n.level[i] = &Level{forward: update[i].level[i].forward}
		update[i].level[i].forward = n
		n.level[i].span = update[i].level[i].span - (rank[0] - rank[i])
		update[i].level[i].span = rank[0] - rank[i] + 1
	}
	for i := level; i < ss.level; i++ {
		update[i].level[i].span++
	}

	if update[0] != ss.header {
		n.backward = update[0]
	}
	if n.level[0].forward != nil {
		n.level[0].forward.backward = n
	} else {
		ss.tail = n
	}
	ss.length++
	return n
}

func (ss *SortedSet) deleteNode(n *node, update []*node) {
	for i := 0; i < ss.level; i++ {
		if update[i].level[i].forward == n {
			update[i].level[i].span += n.level[i].span - 1
			update[i].level[i].forward = n.level[i].forward
		} else {
			update[i].level[i].span--
		}
	}
	if n.level[0].forward != nil {
		n.level[0].forward.backward = n.backward
	} else {
		ss.tail = n.backward
	}
	for ss.level > 1 && ss.header.level[ss.level-1].forward == nil {
		ss.level--
	}
	ss.length--
}

// unlink 按 (score, member) 定位节点并从跳表中摘除
func (ss *SortedSet) unlink(member string, score float64) {
	update := make([]*node, maxLevel)
	x := ss.header
	for i := ss.level - 1; i >= 0; i-- {
		for x.level[i].forward != nil && x.level[i].forward.before(score, member) {
			x = x.level[i].forward
		}
		update[i] = x
	}
	x = x.level[0].forward
	if x != nil && x.Score == score && x.Member == member {
		ss.deleteNode(x, update)
	}
}

// Add 新增成员返回 true；已存在时更新分数并返回 false
func (ss *SortedSet) Add(member string, score float64) bool {
	if old, ok := ss.dict[member]; ok {
		if old.Score != score {
			ss.unlink(member, old.Score)
			ss.dict[member] = ss.insert(member, score)
		}
		return false
	}
	ss.dict[member] = ss.insert(member, score)
	return true
}

func (ss *SortedSet) Remove(member string) bool {
	n, ok := ss.dict[member]
	if !ok {
		return false
	}
	ss.unlink(member, n.Score)
	delete(ss.dict, member)
	return true
}

func (ss *SortedSet) Get(member string) (*Element, bool) {
	n, ok := ss.dict[member]
	if !ok {
		return nil, false
	}
	return &Element{Member: n.Member, Score: n.Score}, true
}

func (ss *SortedSet) Len() int64 {
	return ss.length
}

// GetRank 从 0 开始的排名，desc 为 true 时按分数从大到小
func (ss *SortedSet) GetRank(member string, desc bool) (int64, bool) {
	n, ok := ss.dict[member]
	if !ok {
		return 0, false
	}
	var rank int64
	x := ss.header
	for i := ss.level - 1; i >= 0 && x != n; i-- {
		for f := x.level[i].forward; f != nil && (f == n || f.before(n.Score, member)); f = x.level[i].forward {
			rank += x.level[i].span
			x = f
		}
	}
	rank-- // 转为从 0 开始
	if desc {
		return ss.length - rank - 1, true
	}
	return rank, true
}

// byRank 从 1 开始的排名对应的节点
func (ss *SortedSet) byRank(rank int64) *node {
	var traversed int64
	x := ss.header
	for i := ss.level - 1; i >= 0; i-- {
		for x.level[i].forward != nil && traversed+x.level[i].span <= rank {
			traversed += x.level[i].span
			x = x.level[i].forward
		}
		if traversed == rank {
			return x
		}
	}
	return nil
}

// RangeByRank 返回排名在 [start, stop) 内的成员，调用方保证 0 <= start <= stop <= Len()
func (ss *SortedSet) RangeByRank(start, stop int64, desc bool) []*Element {
	if start >= stop || start < 0 || stop > ss.length {
		return nil
	}
	result := make([]*Element, 0, stop-start)
	var n *node
	if desc {
		n = ss.byRank(ss.length - start)
	} else {
		n = ss.byRank(start + 1)
	}
	for i := start; i < stop && n != nil; i++ {
		result = append(result, &Element{Member: n.Member, Score: n.Score})
		if desc {
			n = n.backward
		} else {
			n = n.level[0].forward
		}
	}
	return result
}

// Border 分数区间的一端，Exclude 对应 "(1" 这样的开区间写法
type Border struct {
	Value   float64
	Exclude bool
}

func (b Border) allowsAbove(v float64) bool {
	if b.Exclude {
		return v > b.Value
	}
	return v >= b.Value
}

func (b Border) allowsBelow(v float64) bool {
	if b.Exclude {
		return v < b.Value
	}
	return v <= b.Value
}

// RangeByScore 返回分数在 [lo, hi] 内的成员，跳过 offset 个，limit 小于 0 表示不限制
func (ss *SortedSet) RangeByScore(lo, hi Border, offset, limit int64, desc bool) []*Element {
	var result []*Element
	x := ss.header
	if desc {
		// 定位到最后一个不超过 hi 的节点，再向前走
		for i := ss.level - 1; i >= 0; i-- {
			for x.level[i].forward != nil && hi.allowsBelow(x.level[i].forward.Score) {
				x = x.level[i].forward
			}
		}
		if x == ss.header {
			return nil
		}
	} else {
		for i := ss.level - 1; i >= 0; i-- {
			for x.level[i].forward != nil && !lo.allowsAbove(x.level[i].forward.Score) {
				x = x.level[i].forward
			}
		}
		x = x.level[0].forward
	}

	next := func(n *node) *node {
		if desc {
			return n.backward
		}
		return n.level[0].forward
	}
	inRange := func(n *node) bool {
		return n != nil && lo.allowsAbove(n.Score) && hi.allowsBelow(n.Score)
	}
	for ; inRange(x) && offset > 0; offset-- {
		x = next(x)
	}
	for ; inRange(x) && (limit < 0 || int64(len(result)) < limit); x = next(x) {
		result = append(result, &Element{Member: x.Member, Score: x.Score})
	}
	return result
}

// Count 分数在 [lo, hi] 内的成员数
func (ss *SortedSet) Count(lo, hi Border) int64 {
	return int64(len(ss.RangeByScore(lo, hi, 0, -1, false)))
}

// ForEach 按升序遍历，fn 返回 false 时停止
func (ss *SortedSet) ForEach(fn func(e *Element) bool) {
	for n := ss.header.level[0].forward; n != nil; n = n.level[0].forward {
		if !fn(&Element{Member: n.Member, Score: n.Score}) {
			return
		}
	}
}
