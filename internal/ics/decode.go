package ics

// Decode parses body and expands it into itinerary events in one step.
func Decode(sourceID string, body []byte, cfg ExpandConfig) (ExpandResult, error) {
	items, err := Parse(sourceID, body)
	if err != nil {
		return ExpandResult{}, err
	}
	return Expand(items, cfg)
}
