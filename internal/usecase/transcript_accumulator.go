package usecase

import (
	"nori/internal/domain"
	"nori/internal/ports"
)

// transcriptAccumulator merges live recognition batches. final only grows;
// pending is replaced by every batch. Both hold uncorrected text.
type transcriptAccumulator struct {
	final   string
	pending string
}

// apply returns the accumulator after one recognition batch. Results before
// ResultIndex were finalized earlier and are skipped. Final segments append
// their text and a space; interim segments of the batch form the new pending
// text.
func (a transcriptAccumulator) apply(batch domain.RecognitionBatch) transcriptAccumulator {
	start := batch.ResultIndex
	if start < 0 {
		start = 0
	}

	next := transcriptAccumulator{final: a.final}
	for i := start; i < len(batch.Results); i++ {
		segment := batch.Results[i]
		if segment.Final {
			next.final += segment.Text + " "
		} else {
			next.pending += segment.Text
		}
	}
	return next
}

// display corrects final and pending separately and joins them.
func (a transcriptAccumulator) display(corrector ports.Corrector) string {
	if corrector == nil {
		return a.final + a.pending
	}
	return corrector.Correct(a.final) + corrector.Correct(a.pending)
}
