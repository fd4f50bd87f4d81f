package assessment

import "github.com/SolaceWell/solace-mvp/engine/domain"

// firstQuestion picks the entry point of the question graph: among questions
// that no other question names as its next_step, the highest scoring one.
// When every question is referenced (the graph closes into a cycle), the
// highest scoring question overall is used instead. Ties keep the earliest
// candidate, so the choice is deterministic for a given pool order.
func firstQuestion(pool []domain.Question) domain.Question {
	referenced := make(map[string]bool, len(pool))
	for _, q := range pool {
		if q.NextStep != "" {
			referenced[q.NextStep] = true
		}
	}

	best := -1
	for i, q := range pool {
		if referenced[q.ID] {
			continue
		}
		if best < 0 || q.Score > pool[best].Score {
			best = i
		}
	}
	if best < 0 {
		for i, q := range pool {
			if best < 0 || q.Score > pool[best].Score {
				best = i
			}
		}
	}
	return pool[best]
}

// nextQuestion resolves what to ask after current. Strategies run in order
// and the first hit wins: the current question's explicit next_step, then an
// unanswered question from the same batch, then one from the same
// sub-category, then any question still unanswered. Candidates are scanned
// in pool order, so resolution is deterministic.
func nextQuestion(current domain.Question, pool []domain.Question, answered map[string]bool) (domain.Question, bool) {
	if current.NextStep != "" {
		for _, q := range pool {
			if q.ID == current.NextStep && !answered[q.ID] {
				return q, true
			}
		}
	}
	if current.BatchID != "" {
		for _, q := range pool {
			if q.BatchID == current.BatchID && !answered[q.ID] {
				return q, true
			}
		}
	}
	if current.SubCategoryID != "" {
		for _, q := range pool {
			if q.SubCategoryID == current.SubCategoryID && !answered[q.ID] {
				return q, true
			}
		}
	}
	for _, q := range pool {
		if !answered[q.ID] {
			return q, true
		}
	}
	return domain.Question{}, false
}

func answeredSet(answered []domain.Question) map[string]bool {
	set := make(map[string]bool, len(answered))
	for _, q := range answered {
		set[q.ID] = true
	}
	return set
}
