package profile

// ReadAll drains a fresh Streamer and returns every event, for callers
// (chiefly package analyze) that want a batch view instead of the
// incremental replay interface.
func ReadAll(path string) ([]Event, ProfileMetadata, error) {
	s, err := OpenStreamer(path)
	if err != nil {
		return nil, ProfileMetadata{}, err
	}
	events := make([]Event, 0, s.Metadata.TotalEvents)
	for {
		e, ok, err := s.NextEvent()
		if err != nil {
			return nil, ProfileMetadata{}, err
		}
		if !ok {
			break
		}
		events = append(events, e)
	}
	return events, s.Metadata, nil
}
