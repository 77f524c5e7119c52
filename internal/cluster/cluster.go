package cluster

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/vector"
)

const DefaultThreshold = 0.85

var ErrMissingEmbedding = errors.New("item has no embedding")

// Cluster is a group of items about the same underlying story.
// CentroidID is the founding member, which is also the highest-scored one.
type Cluster struct {
	ID         int       `json:"id"`
	CentroidID string    `json:"centroid_id"`
	Centroid   []float64 `json:"centroid"`
	MemberIDs  []string  `json:"member_ids"`
	AvgScore   float64   `json:"avg_score"`
	Size       int       `json:"size"`
	RankScore  float64   `json:"rank_score"`
}

// ClusterItems assigns every item to exactly one cluster in a single greedy
// pass. Items are visited by score descending; each joins the existing
// cluster whose centroid is most similar, provided the similarity is at
// least threshold, and otherwise founds a new cluster. Equal similarities go
// to the older cluster. Every item must carry an embedding of the same
// length; this is checked before any assignment.
func ClusterItems(items []content.Item, threshold float64) ([]Cluster, error) {
	if len(items) == 0 {
		return []Cluster{}, nil
	}
	if err := validate(items); err != nil {
		return nil, err
	}

	ordered := make([]content.Item, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	clusters := make([]Cluster, 0)
	for _, item := range ordered {
		best := -1
		bestSimilarity := math.Inf(-1)
		for idx := range clusters {
			// Lengths were validated up front.
			similarity, _ := vector.Cosine(item.Embedding, clusters[idx].Centroid)
			if similarity >= threshold && similarity > bestSimilarity {
				best = idx
				bestSimilarity = similarity
			}
		}

		if best < 0 {
			centroid := make([]float64, len(item.Embedding))
			copy(centroid, item.Embedding)
			clusters = append(clusters, Cluster{
				ID:         len(clusters),
				CentroidID: item.ID,
				Centroid:   centroid,
				MemberIDs:  []string{item.ID},
				AvgScore:   item.Score,
				Size:       1,
			})
			continue
		}

		c := &clusters[best]
		c.Size++
		c.MemberIDs = append(c.MemberIDs, item.ID)
		n := float64(c.Size)
		for i, value := range item.Embedding {
			c.Centroid[i] += (value - c.Centroid[i]) / n
		}
		c.AvgScore += (item.Score - c.AvgScore) / n
	}

	for i := range clusters {
		clusters[i].RankScore = rankScore(clusters[i].AvgScore, clusters[i].Size)
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].RankScore > clusters[j].RankScore
	})
	return clusters, nil
}

// MergeClusters combines a and b into one cluster. The centroid and average
// score are weighted by size, the representative comes from the cluster with
// the higher average score (a on ties) and members keep a's before b's.
func MergeClusters(a, b Cluster) (Cluster, error) {
	if len(a.Centroid) != len(b.Centroid) {
		return Cluster{}, fmt.Errorf("merge clusters %d and %d: %w: %d != %d", a.ID, b.ID, vector.ErrDimensionMismatch, len(a.Centroid), len(b.Centroid))
	}

	sizeA := max(a.Size, len(a.MemberIDs))
	sizeB := max(b.Size, len(b.MemberIDs))
	total := sizeA + sizeB
	if total == 0 {
		return Cluster{}, fmt.Errorf("merge clusters %d and %d: both clusters are empty", a.ID, b.ID)
	}

	weightA := float64(sizeA) / float64(total)
	weightB := float64(sizeB) / float64(total)

	centroid := make([]float64, len(a.Centroid))
	for i := range centroid {
		centroid[i] = a.Centroid[i]*weightA + b.Centroid[i]*weightB
	}

	members := make([]string, 0, len(a.MemberIDs)+len(b.MemberIDs))
	members = append(members, a.MemberIDs...)
	members = append(members, b.MemberIDs...)

	representative := a.CentroidID
	if b.AvgScore > a.AvgScore {
		representative = b.CentroidID
	}

	avgScore := a.AvgScore*weightA + b.AvgScore*weightB
	return Cluster{
		ID:         a.ID,
		CentroidID: representative,
		Centroid:   centroid,
		MemberIDs:  members,
		AvgScore:   avgScore,
		Size:       total,
		RankScore:  rankScore(avgScore, total),
	}, nil
}

func rankScore(avgScore float64, size int) float64 {
	return avgScore * math.Log(float64(size)+1)
}

func validate(items []content.Item) error {
	dims := -1
	for _, item := range items {
		if !item.HasEmbedding() {
			return fmt.Errorf("%w: id=%s", ErrMissingEmbedding, item.ID)
		}
		if dims < 0 {
			dims = len(item.Embedding)
			continue
		}
		if len(item.Embedding) != dims {
			return fmt.Errorf("item id=%s: %w: %d != %d", item.ID, vector.ErrDimensionMismatch, len(item.Embedding), dims)
		}
	}
	return nil
}
