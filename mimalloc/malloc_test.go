package mimalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeapMallocThenFreeReusesBlock(t *testing.T) {
	e := newTestEngine(t)
	h := e.NewHeap(0)

	ptr := h.Malloc(32)
	require.NotNil(t, ptr)
	h.Free(ptr)

	ptr2 := h.Malloc(32)
	require.NotNil(t, ptr2)
	assert.Equal(t, ptr, ptr2, "the freed block should be reused")
}

func TestCallocZeroesMemory(t *testing.T) {
	resetDefaultHeap(t)

	ptr := Calloc(16, 8)
	require.NotNil(t, ptr)
	defer Free(ptr)

	data := unsafe.Slice((*byte)(ptr), 128)
	for i, b := range data {
		require.Equalf(t, byte(0), b, "byte %d not zeroed", i)
	}
}

func TestReallocGrowsAndPreservesContent(t *testing.T) {
	resetDefaultHeap(t)

	ptr := Malloc(16)
	require.NotNil(t, ptr)
	src := unsafe.Slice((*byte)(ptr), 16)
	for i := range src {
		src[i] = byte(i + 1)
	}

	grown := Realloc(ptr, 512)
	require.NotNil(t, grown)
	defer Free(grown)

	got := unsafe.Slice((*byte)(grown), 16)
	for i := range got {
		assert.Equal(t, byte(i+1), got[i])
	}
}

func TestReallocToZeroFrees(t *testing.T) {
	resetDefaultHeap(t)
	ptr := Malloc(16)
	require.NotNil(t, ptr)
	assert.Nil(t, Realloc(ptr, 0))
}

func TestAlignedAllocHonoursAlignment(t *testing.T) {
	resetDefaultHeap(t)

	ptr := AlignedAlloc(64, 4096)
	require.NotNil(t, ptr)
	defer Free(ptr)
	assert.Zero(t, uintptr(ptr)%4096)
}

func TestPosixMemalignReportsStatus(t *testing.T) {
	resetDefaultHeap(t)

	var out unsafe.Pointer
	status := PosixMemalign(&out, 256, 32)
	require.Equal(t, 0, status)
	require.NotNil(t, out)
	defer Free(out)
	assert.Zero(t, uintptr(out)%256)
}

func TestStrdupRoundTrips(t *testing.T) {
	resetDefaultHeap(t)

	ptr := Strdup("hello")
	require.NotNil(t, ptr)
	defer Free(ptr)

	data := unsafe.Slice((*byte)(ptr), 6)
	assert.Equal(t, "hello\x00", string(data))
}

func TestMallocUsableSizeAtLeastRequested(t *testing.T) {
	resetDefaultHeap(t)

	ptr := Malloc(100)
	require.NotNil(t, ptr)
	defer Free(ptr)
	assert.GreaterOrEqual(t, MallocUsableSize(ptr), 100)
}
