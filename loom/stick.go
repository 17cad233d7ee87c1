package loom

// StickKey is an opaque tracking key derived from a sample fetch: the
// rule engine exposes only opaque key bytes to stick tables and never
// interprets them itself — TrackSlot.Apply hands them to a StickTable
// without looking inside.
type StickKey []byte

// StickTable is the minimal interface the rule engine's TRACK_SC1/SC2
// actions need from a stick-table storage engine, which stays out of
// scope for this package. Track returns a counterRef the caller can
// later use to read back accumulated counts (request rate, error rate,
// ...); ok is false if the table is full or the key was rejected.
type StickTable interface {
	Track(key StickKey) (counterRef int64, ok bool)
}

// NewStickKey builds a StickKey from a sample fetch's raw value, copying
// it so the key owns its bytes independently of the slice the fetch
// returned.
func NewStickKey(value []byte) StickKey {
	key := make(StickKey, len(value))
	copy(key, value)
	return key
}

// TrackSlot pairs a TrackParams rule action with the table it targets;
// Apply uses Table directly and never resolves TableName by string lookup.
type TrackSlot struct {
	Params TrackParams
	Table  StickTable
}

// Apply runs one TRACK_SC1/SC2 action: it fetches the keyed sample from
// ctx and tracks it in the bound table, returning the counter reference
// the caller (the admin/stats layer, or a later rule referencing sc1/sc2)
// can read back. ok is false if the fetch MISSed or the table refused the
// key.
func (s *TrackSlot) Apply(ctx *FetchContext) (counterRef int64, ok bool) {
	f, found := LookupFetch(s.Params.FetchName)
	if !found {
		return 0, false
	}
	value, fetched := f(ctx, s.Params.FetchArg)
	if !fetched {
		return 0, false
	}
	return s.Table.Track(NewStickKey(value))
}
