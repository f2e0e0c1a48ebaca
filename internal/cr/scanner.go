package cr

// ImportEntry is one local file or directory discovered for bulk import.
// RelPath uses forward slashes and is relative to the scanned root.
type ImportEntry struct {
	RelPath string
	IsDir   bool
	Size    int64
}

// TreeScanner discovers the entries below a local directory, parents
// before children.
type TreeScanner interface {
	Scan(root string) ([]ImportEntry, error)
}
