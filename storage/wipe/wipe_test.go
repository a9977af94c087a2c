package wipe

import (
	"bytes"
	"os"
	"testing"
)

func tempDevice(t *testing.T, size int64) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "wipe-target")
	if err != nil {
		t.Fatalf("creating temp file: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncating temp file: %v", err)
	}
	filled := bytes.Repeat([]byte{0xAA}, int(size))
	if _, err := f.WriteAt(filled, 0); err != nil {
		t.Fatalf("seeding temp file: %v", err)
	}
	return f.Name()
}

func readAll(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return b
}

func TestSuperblockWipesOnlyEnds(t *testing.T) {
	size := int64(4 << 20) // 4 MiB
	path := tempDevice(t, size)

	if err := Device(path, size, Superblock, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := readAll(t, path)
	for i := int64(0); i < wipeChunkSize; i++ {
		if data[i] != 0 {
			t.Fatalf("expected start of device to be zeroed at offset %d", i)
		}
	}
	for i := size - wipeChunkSize; i < size; i++ {
		if data[i] != 0 {
			t.Fatalf("expected end of device to be zeroed at offset %d", i)
		}
	}
	mid := size / 2
	if data[mid] != 0xAA {
		t.Fatalf("expected middle of device to be untouched, got %x at offset %d", data[mid], mid)
	}
}

func TestZeroWipesEntireDevice(t *testing.T) {
	size := int64(2 << 20)
	path := tempDevice(t, size)

	if err := Device(path, size, Zero, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := readAll(t, path)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("expected entire device zeroed, found non-zero byte at %d", i)
		}
	}
}

func TestRandomWipesEntireDeviceWithNonZeroData(t *testing.T) {
	size := int64(1 << 20)
	path := tempDevice(t, size)

	if err := Device(path, size, Random, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data := readAll(t, path)
	allZero := true
	for _, b := range data {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatalf("expected random wipe to produce non-zero data")
	}
}

func TestSuperblockRecursiveWipesPartitionExtents(t *testing.T) {
	size := int64(8 << 20)
	path := tempDevice(t, size)
	extents := []PartitionExtent{
		{Offset: 4 << 20, Size: 2 << 20},
	}

	if err := Device(path, size, SuperblockRecursive, extents, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := readAll(t, path)
	extStart := extents[0].Offset
	if data[extStart] != 0 {
		t.Fatalf("expected partition extent start to be zeroed")
	}
	extEnd := extents[0].Offset + extents[0].Size - 1
	if data[extEnd] != 0 {
		t.Fatalf("expected partition extent end to be zeroed")
	}
}

func TestOpenExclusiveFailureReportsHolders(t *testing.T) {
	path := tempDevice(t, 1<<20)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("opening file: %v", err)
	}
	defer f.Close()

	// A regular file doesn't enforce O_EXCL semantics against a second
	// open the way a block device does, so exercise the error path
	// directly against the holder-reporting wrapper instead.
	_, wrapErr := openExclusive("/nonexistent/path/for/wipe/test", func(p string) []string {
		return []string{"fake-holder"}
	})
	if wrapErr == nil {
		t.Fatalf("expected an error opening a nonexistent path")
	}
	holderErr, ok := wrapErr.(*HolderError)
	if !ok {
		t.Fatalf("expected a *HolderError, got %T", wrapErr)
	}
	if len(holderErr.Holders) != 1 || holderErr.Holders[0] != "fake-holder" {
		t.Fatalf("expected holder list to be populated, got %v", holderErr.Holders)
	}
}
