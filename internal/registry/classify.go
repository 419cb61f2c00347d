package registry

import "strings"

const (
	// GroupCapacity is the default number of places in a group session.
	GroupCapacity = 20
	// ExclusiveCapacity is the capacity of a slot booked by one party.
	ExclusiveCapacity = 1
)

var groupKeywords = []string{"gym", "swimming", "fitness", "yoga", "dance"}

// ClassifyCapacity derives slot capacity from a venue category or trainer
// specialization. Group activities share a slot; everything else is
// exclusive.
func ClassifyCapacity(label string) int {
	l := strings.ToLower(label)
	for _, kw := range groupKeywords {
		if strings.Contains(l, kw) {
			return GroupCapacity
		}
	}
	return ExclusiveCapacity
}
