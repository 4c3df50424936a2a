// Package mnuma answers the NUMA and process-memory queries the arena
// layer needs to size reservations and route NUMA-local allocation
// (spec.md §4.5 step 2, §8.4 scenario 5): which node the calling CPU is
// on, how many nodes exist, and how much physical memory the machine
// and process have. Total/used memory comes from gosigar, the way the
// teacher's tooling queries machine memory; node topology is read
// straight from /sys on Linux, with every other GOOS reporting a single
// node, which is always a correct (if unhelpful) answer.
package mnuma

import (
	"os"
	"regexp"
	"sort"

	sigar "github.com/cloudfoundry/gosigar"
)

var nodeDirRe = regexp.MustCompile(`^node(\d+)$`)

// NodeCount returns the number of NUMA nodes visible to this process.
// Machines without exposed NUMA topology (including every non-Linux
// GOOS) report 1.
func NodeCount() int {
	entries, err := os.ReadDir("/sys/devices/system/node")
	if err != nil {
		return 1
	}
	nodes := map[int]bool{}
	for _, e := range entries {
		if m := nodeDirRe.FindStringSubmatch(e.Name()); m != nil {
			n := 0
			for _, c := range m[1] {
				n = n*10 + int(c-'0')
			}
			nodes[n] = true
		}
	}
	if len(nodes) == 0 {
		return 1
	}
	return len(nodes)
}

// Nodes returns the sorted list of NUMA node ids visible to this process.
func Nodes() []int {
	count := NodeCount()
	if count <= 1 {
		return []int{0}
	}
	entries, err := os.ReadDir("/sys/devices/system/node")
	if err != nil {
		return []int{0}
	}
	ids := make([]int, 0, count)
	for _, e := range entries {
		if m := nodeDirRe.FindStringSubmatch(e.Name()); m != nil {
			n := 0
			for _, c := range m[1] {
				n = n*10 + int(c-'0')
			}
			ids = append(ids, n)
		}
	}
	sort.Ints(ids)
	return ids
}

// ProcessInfo reports machine-wide memory, used by the arena registry to
// size its default reserve (spec.md §3.3) when the configured reserve is
// left at its zero value.
type ProcessInfo struct {
	TotalMemory uint64
	UsedMemory  uint64
}

// QueryProcessInfo queries machine memory via gosigar. Errors collapse to
// a zeroed ProcessInfo; callers fall back to the static default reserve.
func QueryProcessInfo() ProcessInfo {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		return ProcessInfo{}
	}
	return ProcessInfo{TotalMemory: mem.Total, UsedMemory: mem.Used}
}
