package es

// WriteResult is the outcome of a stream append.
type WriteResult int

const (
	// WriteUndefined is the zero value. A store never legitimately returns it.
	WriteUndefined WriteResult = iota
	// WriteSuccess means every entry of the batch was durably appended.
	WriteSuccess
	// WriteSequenceAlreadyTaken means another writer claimed one of the sequences first.
	WriteSequenceAlreadyTaken
	// WriteUnknownFailure means the append failed for another reason.
	// The batch may or may not have been applied.
	WriteUnknownFailure
)

// String returns the name of the result.
func (r WriteResult) String() string {
	switch r {
	case WriteUndefined:
		return "Undefined"
	case WriteSuccess:
		return "Success"
	case WriteSequenceAlreadyTaken:
		return "SequenceAlreadyTaken"
	case WriteUnknownFailure:
		return "UnknownFailure"
	default:
		return "WriteResult(?)"
	}
}
