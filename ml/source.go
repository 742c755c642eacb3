package ml

// DataSource is a sequential, non-rewindable stream of training samples.
type DataSource interface {
	// Len returns how many samples remain.
	Len() int
	// Next returns the next sample, or io.EOF once the source is exhausted.
	Next() (Sample, error)
}
