package monitor

import (
	"github.com/navshield/sentineltrace/pkg/events"
	"github.com/navshield/sentineltrace/pkg/model"
)

// computeStatistics derives SessionStatistics from a windowed event read
//. Process-tree depth uses the same walk-with-cycle-protection
// algorithm as the catalog normalizer's feature vector.
func computeStatistics(records []model.EventRecord) model.SessionStatistics {
	histogram := make(map[int]int)
	kinds := make(map[int]bool)
	pids := make(map[int64]bool)

	var network, fileOps, registryOps, created int
	var first, last int64
	haveFirst := false

	for _, r := range records {
		if r.KindCode > 0 {
			histogram[r.KindCode]++
			kinds[r.KindCode] = true
		}
		kind := events.Kind(r.KindCode)
		switch kind {
		case events.KindNetworkConnect:
			network++
		case events.KindProcessCreate:
			created++
		}
		if events.FileOpKinds[kind] {
			fileOps++
		}
		if events.RegistryOpKinds[kind] {
			registryOps++
		}
		if r.ProcessID != 0 {
			pids[r.ProcessID] = true
		}

		t := r.EventTimeUTC.Unix()
		if !haveFirst {
			first, last = t, t
			haveFirst = true
		}
		if t < first {
			first = t
		}
		if t > last {
			last = t
		}
	}

	duration := float64(last - first)
	if duration < 0 {
		duration = 0
	}

	return model.SessionStatistics{
		TotalEvents:      len(records),
		UniqueKinds:      len(kinds),
		NetworkCount:     network,
		FileOpsCount:     fileOps,
		RegistryOpsCount: registryOps,
		ProcessesCreated: created,
		ActiveProcesses:  len(pids),
		ProcessTreeDepth: processTreeDepth(records),
		Histogram:        histogram,
		DurationSeconds:  duration,
	}
}

// processTreeDepth mirrors the normalizer's algorithm: walk child->parent pointers with a visited set and a 50-hop ceiling.
func processTreeDepth(records []model.EventRecord) int {
	parentOf := make(map[int64]int64)
	for _, r := range records {
		if r.ProcessID != 0 {
			if _, ok := parentOf[r.ProcessID]; !ok {
				parentOf[r.ProcessID] = r.ParentProcessID
			}
		}
	}

	best := 0
	for pid := range parentOf {
		depth := 0
		visited := make(map[int64]bool)
		cur := pid
		for hops := 0; hops < 50; hops++ {
			if visited[cur] {
				break
			}
			visited[cur] = true
			parent, ok := parentOf[cur]
			if !ok || parent == 0 || parent == cur {
				break
			}
			depth++
			cur = parent
		}
		if depth > best {
			best = depth
		}
	}
	return best
}
