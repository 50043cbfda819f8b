package duplicates

import (
	"errors"
	"sort"

	"github.com/esprusso/photo-library/internal/database"
	"github.com/esprusso/photo-library/internal/phash"
)

const (
	// DefaultThreshold is the largest Hamming distance treated as a match.
	DefaultThreshold = 6

	// DefaultPrefixBits is the fingerprint prefix width used as bucket key.
	DefaultPrefixBits = 12

	// DefaultLimit caps how many fingerprints one search loads.
	DefaultLimit = 10000
)

// Member is one image in a cluster with its distance from the seed.
type Member struct {
	ImageID  int64
	Distance int
}

// Cluster is a seed image and every image within threshold of it. The seed
// is the first member, at distance 0.
type Cluster struct {
	Phash   string
	Members []Member
}

// IgnoreSet holds normalized pairs that must never be linked.
type IgnoreSet map[[2]int64]struct{}

// NewIgnoreSet builds a set from stored pairs.
func NewIgnoreSet(pairs []database.IgnoredPair) IgnoreSet {
	set := make(IgnoreSet, len(pairs))
	for _, p := range pairs {
		set.Add(p.A, p.B)
	}
	return set
}

// Add inserts a pair in either order.
func (s IgnoreSet) Add(a, b int64) {
	a, b = database.NormalizePair(a, b)
	s[[2]int64{a, b}] = struct{}{}
}

// Has reports whether a pair, in either order, is ignored.
func (s IgnoreSet) Has(a, b int64) bool {
	if len(s) == 0 {
		return false
	}
	a, b = database.NormalizePair(a, b)
	_, ok := s[[2]int64{a, b}]
	return ok
}

type entry struct {
	id int64
	fp phash.Parsed
}

// FindClusters groups fingerprints into disjoint star-shaped clusters.
//
// Fingerprints are bucketed by their prefixBits-bit prefix and only compared
// inside a bucket, so a near pair whose leading bits differ is missed. Within
// a bucket each unvisited item, in input order, seeds a cluster of the later
// unvisited items within threshold whose pair is not ignored. Members are
// visited once claimed; a seed is visited only when its cluster has at least
// two members. Empty or malformed fingerprints are skipped.
//
// Clusters are returned largest first. The second result is the number of
// pairwise comparisons made.
func FindClusters(fps []database.Fingerprint, ignored IgnoreSet, threshold, prefixBits int) ([]Cluster, int) {
	buckets := make(map[string][]entry)
	var order []string
	for _, fp := range fps {
		if fp.Phash == "" {
			continue
		}
		parsed, err := phash.Parse(fp.Phash)
		if err != nil {
			continue
		}
		key := phash.Prefix(fp.Phash, prefixBits)
		if _, ok := buckets[key]; !ok {
			order = append(order, key)
		}
		buckets[key] = append(buckets[key], entry{id: fp.ImageID, fp: parsed})
	}

	var clusters []Cluster
	comparisons := 0
	for _, key := range order {
		found, n := clusterBucket(buckets[key], ignored, threshold)
		clusters = append(clusters, found...)
		comparisons += n
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return len(clusters[i].Members) > len(clusters[j].Members)
	})
	return clusters, comparisons
}

func clusterBucket(items []entry, ignored IgnoreSet, threshold int) ([]Cluster, int) {
	if len(items) < 2 {
		return nil, 0
	}

	var clusters []Cluster
	comparisons := 0
	visited := make([]bool, len(items))
	for i, seed := range items {
		if visited[i] {
			continue
		}
		members := []Member{{ImageID: seed.id}}
		for j := i + 1; j < len(items); j++ {
			if visited[j] {
				continue
			}
			comparisons++
			d := seed.fp.Distance(items[j].fp)
			if d > threshold || ignored.Has(seed.id, items[j].id) {
				continue
			}
			members = append(members, Member{ImageID: items[j].id, Distance: d})
			visited[j] = true
		}
		if len(members) >= 2 {
			visited[i] = true
			clusters = append(clusters, Cluster{Phash: seed.fp.Hex, Members: members})
		}
	}
	return clusters, comparisons
}

// IDs returns the member image ids in cluster order.
func (c Cluster) IDs() []int64 {
	ids := make([]int64, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ImageID
	}
	return ids
}

// Distances returns the member distances in cluster order.
func (c Cluster) Distances() []int {
	ds := make([]int, len(c.Members))
	for i, m := range c.Members {
		ds[i] = m.Distance
	}
	return ds
}

// MaxClusterIDs bounds IgnoreCluster. The pair count grows quadratically.
const MaxClusterIDs = 1000

// ErrClusterTooLarge is returned by IgnoreCluster for more than
// MaxClusterIDs ids.
var ErrClusterTooLarge = errors.New("too many image ids in cluster")

// ClusterPairs expands ids into every unordered pair of distinct ids,
// sorted and de-duplicated first.
func ClusterPairs(ids []int64) [][2]int64 {
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	pairs := make([][2]int64, 0, len(unique)*(len(unique)-1)/2)
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			pairs = append(pairs, [2]int64{unique[i], unique[j]})
		}
	}
	return pairs
}
