package mimalloc_test

import (
	"fmt"
	"unsafe"

	"github.com/the-die/mimalloc/internal/arena"
	"github.com/the-die/mimalloc/mimalloc"
)

// ExampleMalloc shows allocating and freeing through the package-level
// default heap, the simplest way to use this allocator.
func ExampleMalloc() {
	ptr := mimalloc.Malloc(64)
	if ptr == nil {
		fmt.Println("allocation failed")
		return
	}
	defer mimalloc.Free(ptr)

	data := unsafe.Slice((*byte)(ptr), 5)
	copy(data, []byte("hello"))
	fmt.Println(string(data))
	// Output: hello
}

// Example_heap shows creating a dedicated Engine and Heap, the path
// that gets the real lock-free fast path instead of the mutex-guarded
// default.
func Example_heap() {
	engine := mimalloc.NewEngine(arena.DefaultOptions())
	heap := engine.NewHeap(0)
	defer heap.Destroy()

	ptr := heap.Malloc(128)
	if ptr == nil {
		fmt.Println("allocation failed")
		return
	}
	heap.Free(ptr)
	fmt.Println("ok")
	// Output: ok
}
