package main

import (
	"time"
	"unsafe"

	"github.com/spf13/cobra"

	"github.com/the-die/mimalloc/mimalloc"
)

var (
	statsAllocCount int
	statsAllocSize  int
	statsFreeHalf   bool
)

func init() {
	cmd := newStatsCmd()
	cmd.Flags().IntVar(&statsAllocCount, "alloc", 0, "Number of blocks to allocate before reporting stats")
	cmd.Flags().IntVar(&statsAllocSize, "size", 32, "Size in bytes of each allocated block")
	cmd.Flags().BoolVar(&statsFreeHalf, "free-half", false, "Free every other allocated block to exercise reuse")
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Run a synthetic workload and report arena/heap statistics",
		Long: `The stats command drives a small allocate/free workload through the
package-level default heap and reports the resulting arena registry
statistics: arena count, reserved bytes, and abandoned-segment count.

Example:
  mistat stats --alloc 10000 --size 64
  mistat stats --alloc 10000 --size 64 --free-half --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats()
		},
	}
}

func runStats() error {
	engine := mimalloc.Default()
	heap := engine.NewHeap(0)
	defer heap.Destroy()

	ptrs := make([]unsafe.Pointer, 0, statsAllocCount)
	for i := 0; i < statsAllocCount; i++ {
		if p := heap.Malloc(statsAllocSize); p != nil {
			ptrs = append(ptrs, p)
		}
	}
	if statsFreeHalf {
		for i, p := range ptrs {
			if i%2 == 0 {
				heap.Free(p)
			}
		}
	}

	snap := engine.Snapshot()

	if jsonOut {
		return printJSON(snap)
	}

	printInfo("Allocator Statistics\n")
	printInfo("====================\n\n")
	printInfo("Allocated: %d blocks of %d bytes\n", len(ptrs), statsAllocSize)
	printInfo("%s\n", snap.String())
	return nil
}

// nowMsecs is shared with purge.go for the current wall-clock time in
// the same units arena.Options.PurgeDelayMsecs is expressed in.
func nowMsecs() int64 {
	return time.Now().UnixMilli()
}
