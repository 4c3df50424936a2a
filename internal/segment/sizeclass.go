package segment

// Size-class schedule of spec.md §3.1: 8-byte multiples up to 1024
// bytes (so the direct lookup table `pages_direct[(n+7)>>3]` of §4.1 can
// index every small size exactly), then a geometric progression with
// roughly 12.5% spacing up to the medium/large boundary. The geometric
// step is the teacher's Blocksizes growth rule (malloc/util.go
// `nextsize`), generalized from a single utilization target into the
// fixed schedule a segment's size classes are drawn from once at
// startup rather than recomputed per arena.

const (
	// SmallMax is the inclusive upper bound of the small category.
	SmallMax = 1024
	// MediumMax is the inclusive upper bound of the medium category.
	MediumMax = 128 * 1024
	// DirectSlots is the number of 8-byte-granular entries in the
	// pages_direct table, covering 1..SmallMax bytes.
	DirectSlots = SmallMax / 8
)

// sizeUtilization mirrors the teacher's MEMUtilization constant: the
// target ratio of useful bytes to the size class's capacity, used to
// decide how fast the geometric classes grow.
const sizeUtilization = 0.875 // matches spec.md's "~12.5% spacing"

// Classes is the immutable, process-wide size-class table, computed
// once at init.
var Classes = computeSizeClasses()

// direct is the pages_direct index: direct[i] is the size class index
// serving requests of (i+1)*8 - 7 .. (i+1)*8 bytes, i.e. bucket
// (n+7)>>3 - 1.
var direct = buildDirect(Classes)

func computeSizeClasses() []int64 {
	classes := make([]int64, 0, 192)
	for n := int64(8); n <= SmallMax; n += 8 {
		classes = append(classes, n)
	}
	for size := int64(SmallMax); size < MediumMax; {
		size = nextGeometricClass(size)
		if size > MediumMax {
			size = MediumMax
		}
		classes = append(classes, size)
	}
	if classes[len(classes)-1] != MediumMax {
		classes = append(classes, MediumMax)
	}
	return classes
}

// nextGeometricClass rounds `from` up by roughly 1/8th of its own
// magnitude, the same growth rule as the teacher's Blocksizes()
// nextsize helper (malloc/util.go), snapped to an 8-byte boundary.
func nextGeometricClass(from int64) int64 {
	addby := int64(float64(from) * (1.0 - sizeUtilization))
	if addby < 8 {
		addby = 8
	}
	if rem := addby % 8; rem != 0 {
		addby += 8 - rem
	}
	size := from + addby
	if rem := size % 8; rem != 0 {
		size += 8 - rem
	}
	return size
}

func buildDirect(classes []int64) []int {
	table := make([]int, DirectSlots)
	ci := 0
	for slot := 0; slot < DirectSlots; slot++ {
		want := int64(slot+1) * 8
		for classes[ci] < want {
			ci++
		}
		table[slot] = ci
	}
	return table
}

// ClassIndexForSmall returns the size-class index for n bytes, n in
// [1, SmallMax], via the direct lookup table of spec.md §4.1 step 1.
func ClassIndexForSmall(n int64) int {
	slot := (n + 7) >> 3
	return direct[slot-1]
}

// ClassIndexFor returns the size-class index serving n bytes, for any n
// within the size-class table's range, using the teacher's binary
// search (malloc/util.go SuitableSize) generalized to work over class
// indices instead of raw sizes.
func ClassIndexFor(n int64) int {
	if n <= SmallMax {
		return ClassIndexForSmall(n)
	}
	lo, hi := 0, len(Classes)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if Classes[mid] < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// ClassOf returns the block size in bytes for a given class index.
func ClassOf(classIndex int) int64 {
	return Classes[classIndex]
}

// Category classifies a block size into the four spec.md §3.1 categories.
type Category int

const (
	CategorySmall Category = iota
	CategoryMedium
	CategoryLarge
	CategoryHuge
)

// CategoryFor classifies a request size given the segment size in use
// for large/huge thresholding.
func CategoryFor(n int64, segmentSize int64) Category {
	switch {
	case n <= SmallMax:
		return CategorySmall
	case n <= MediumMax:
		return CategoryMedium
	case n <= segmentSize/2:
		return CategoryLarge
	default:
		return CategoryHuge
	}
}
