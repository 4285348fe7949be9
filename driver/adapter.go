package driver

import (
	"protocrash/corpus"
	"protocrash/mutate"
)

// corpusAdapter narrows a *corpus.Store to mutate.CorpusSource,
// translating corpus.Entry into mutate's deliberately independent
// Entry shape so the mutation engine never imports package corpus.
type corpusAdapter struct {
	store *corpus.Store
}

func (a corpusAdapter) Random(exclude string) (mutate.Entry, bool) {
	e, ok := a.store.Random(exclude)
	if !ok {
		return mutate.Entry{}, false
	}
	return mutate.Entry{ID: e.ID, Data: e.Data}, true
}
