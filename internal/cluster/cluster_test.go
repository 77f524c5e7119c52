package cluster

import (
	"errors"
	"math"
	"testing"

	"github.com/btighe428/cityping-sub002/internal/content"
	"github.com/btighe428/cityping-sub002/internal/vector"
)

func themedItems() []content.Item {
	return []content.Item{
		{ID: "subway-1", Title: "Subway delays on the L train", Embedding: []float64{1, 0.05, 0}, Score: 0.9},
		{ID: "mayor-1", Title: "Mayor holds press conference", Embedding: []float64{0, 1, 0.05}, Score: 0.8},
		{ID: "subway-2", Title: "L train service suspended", Embedding: []float64{0.98, 0.1, 0.02}, Score: 0.7},
		{ID: "subway-3", Title: "Signal problems slow subway", Embedding: []float64{0.95, 0.02, 0.1}, Score: 0.6},
		{ID: "mayor-2", Title: "City Hall briefing on budget", Embedding: []float64{0.05, 0.97, 0.1}, Score: 0.75},
		{ID: "subway-4", Title: "Commuters stranded underground", Embedding: []float64{0.99, 0.08, 0.05}, Score: 0.5},
		{ID: "subway-5", Title: "MTA apologizes for delays", Embedding: []float64{0.97, 0, 0}, Score: 0.4},
		{ID: "mayor-3", Title: "Mayor answers questions", Embedding: []float64{0.02, 0.99, 0}, Score: 0.65},
	}
}

func TestClusterItemsGroupsByTheme(t *testing.T) {
	t.Parallel()

	clusters, err := ClusterItems(themedItems(), DefaultThreshold)
	if err != nil {
		t.Fatalf("cluster items: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d: %+v", len(clusters), clusters)
	}

	sizes := map[string]int{}
	for _, c := range clusters {
		sizes[c.CentroidID] = c.Size
		if c.Size != len(c.MemberIDs) {
			t.Fatalf("cluster %d size %d does not match %d members", c.ID, c.Size, len(c.MemberIDs))
		}
	}
	if sizes["subway-1"] != 5 || sizes["mayor-1"] != 3 {
		t.Fatalf("expected subway cluster of 5 and mayor cluster of 3, got %v", sizes)
	}

	subway := clusters[0]
	if subway.CentroidID != "subway-1" {
		t.Fatalf("expected subway cluster to rank first, got %+v", clusters)
	}
	wantMembers := []string{"subway-1", "subway-2", "subway-3", "subway-4", "subway-5"}
	for i, id := range wantMembers {
		if subway.MemberIDs[i] != id {
			t.Fatalf("expected members in score order %v, got %v", wantMembers, subway.MemberIDs)
		}
	}
	wantAvg := (0.9 + 0.7 + 0.6 + 0.5 + 0.4) / 5
	if math.Abs(subway.AvgScore-wantAvg) > 1e-9 {
		t.Fatalf("expected avg score %f, got %f", wantAvg, subway.AvgScore)
	}
	if math.Abs(subway.RankScore-wantAvg*math.Log(6)) > 1e-9 {
		t.Fatalf("unexpected rank score %f", subway.RankScore)
	}
}

func TestClusterItemsPartition(t *testing.T) {
	t.Parallel()

	items := themedItems()
	for _, threshold := range []float64{-1, 0, 0.5, 0.85, 0.99, 1.01} {
		clusters, err := ClusterItems(items, threshold)
		if err != nil {
			t.Fatalf("threshold %f: %v", threshold, err)
		}
		seen := map[string]int{}
		for _, c := range clusters {
			for _, id := range c.MemberIDs {
				seen[id]++
			}
		}
		if len(seen) != len(items) {
			t.Fatalf("threshold %f: expected %d distinct members, got %d", threshold, len(items), len(seen))
		}
		for id, count := range seen {
			if count != 1 {
				t.Fatalf("threshold %f: item %s appears %d times", threshold, id, count)
			}
		}
	}
}

func TestClusterItemsCentroidIsArithmeticMean(t *testing.T) {
	t.Parallel()

	items := themedItems()
	clusters, err := ClusterItems(items, -1)
	if err != nil {
		t.Fatalf("cluster items: %v", err)
	}
	if len(clusters) != 1 {
		t.Fatalf("expected a single cluster, got %d", len(clusters))
	}

	vectors := make([][]float64, 0, len(items))
	for _, item := range items {
		vectors = append(vectors, item.Embedding)
	}
	want, err := vector.Mean(vectors)
	if err != nil {
		t.Fatalf("mean: %v", err)
	}
	for i := range want {
		if math.Abs(clusters[0].Centroid[i]-want[i]) > 1e-9 {
			t.Fatalf("centroid[%d]=%f, want %f", i, clusters[0].Centroid[i], want[i])
		}
	}
}

func TestClusterItemsDoesNotAliasEmbeddings(t *testing.T) {
	t.Parallel()

	items := []content.Item{
		{ID: "a", Embedding: []float64{1, 0}, Score: 2},
		{ID: "b", Embedding: []float64{0.9, 0.1}, Score: 1},
	}
	if _, err := ClusterItems(items, -1); err != nil {
		t.Fatalf("cluster items: %v", err)
	}
	if items[0].Embedding[0] != 1 || items[0].Embedding[1] != 0 {
		t.Fatalf("founder embedding was mutated: %v", items[0].Embedding)
	}
}

func TestClusterItemsTieGoesToOlderCluster(t *testing.T) {
	t.Parallel()

	items := []content.Item{
		{ID: "x", Embedding: []float64{1, 0}, Score: 3},
		{ID: "y", Embedding: []float64{0, 1}, Score: 2},
		{ID: "z", Embedding: []float64{1, 1}, Score: 1},
	}
	clusters, err := ClusterItems(items, 0.7)
	if err != nil {
		t.Fatalf("cluster items: %v", err)
	}
	for _, c := range clusters {
		if c.CentroidID == "x" && len(c.MemberIDs) != 2 {
			t.Fatalf("expected tie to join the first cluster, got %+v", clusters)
		}
		if c.CentroidID == "y" && len(c.MemberIDs) != 1 {
			t.Fatalf("expected second cluster untouched, got %+v", clusters)
		}
	}
}

func TestClusterItemsEmptyAndInvalidInput(t *testing.T) {
	t.Parallel()

	clusters, err := ClusterItems(nil, DefaultThreshold)
	if err != nil || clusters == nil || len(clusters) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v (err=%v)", clusters, err)
	}

	_, err = ClusterItems([]content.Item{{ID: "a", Embedding: []float64{1}}, {ID: "b"}}, DefaultThreshold)
	if !errors.Is(err, ErrMissingEmbedding) {
		t.Fatalf("expected ErrMissingEmbedding, got %v", err)
	}

	_, err = ClusterItems([]content.Item{
		{ID: "a", Embedding: make([]float64, 1536)},
		{ID: "b", Embedding: make([]float64, 768)},
	}, DefaultThreshold)
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMergeClusters(t *testing.T) {
	t.Parallel()

	a := Cluster{ID: 0, CentroidID: "a1", Centroid: []float64{1, 0}, MemberIDs: []string{"a1", "a2", "a3"}, Size: 3, AvgScore: 0.5}
	b := Cluster{ID: 1, CentroidID: "b1", Centroid: []float64{0, 1}, MemberIDs: []string{"b1"}, Size: 1, AvgScore: 0.9}

	merged, err := MergeClusters(a, b)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.Centroid[0] != 0.75 || merged.Centroid[1] != 0.25 {
		t.Fatalf("expected size-weighted centroid, got %v", merged.Centroid)
	}
	if merged.CentroidID != "b1" {
		t.Fatalf("expected representative from higher avg score, got %s", merged.CentroidID)
	}
	want := []string{"a1", "a2", "a3", "b1"}
	for i, id := range want {
		if merged.MemberIDs[i] != id {
			t.Fatalf("expected members %v, got %v", want, merged.MemberIDs)
		}
	}
	if merged.Size != 4 || math.Abs(merged.AvgScore-0.6) > 1e-12 {
		t.Fatalf("unexpected size/avg: %d/%f", merged.Size, merged.AvgScore)
	}
	if math.Abs(merged.RankScore-0.6*math.Log(5)) > 1e-12 {
		t.Fatalf("unexpected rank score %f", merged.RankScore)
	}

	_, err = MergeClusters(a, Cluster{Centroid: []float64{1}, Size: 1, MemberIDs: []string{"c"}})
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}
