package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"
)

type matchRow struct {
	CandidateID      string  `csv:"candidate_id"`
	CandidateName    string  `csv:"candidate_name"`
	OpportunityID    string  `csv:"opportunity_id"`
	OpportunityTitle string  `csv:"opportunity_title"`
	Composite        float64 `csv:"composite_score"`
	Semantic         float64 `csv:"semantic"`
	Overlap          float64 `csv:"overlap"`
	Strength         float64 `csv:"strength"`
	Bonus            float64 `csv:"bonus"`
}

type unmatchedRow struct {
	CandidateID string `csv:"candidate_id"`
	Reason      string `csv:"reason"`
}

// WriteMatchesCSV writes one row per match with its score breakdown.
func (r *Report) WriteMatchesCSV(w io.Writer) error {
	rows := make([]matchRow, 0, len(r.Matches))
	for _, m := range r.Matches {
		rows = append(rows, matchRow{
			CandidateID:      m.CandidateID,
			CandidateName:    m.CandidateName,
			OpportunityID:    m.OpportunityID,
			OpportunityTitle: m.OpportunityTitle,
			Composite:        m.Composite,
			Semantic:         m.SubScores.Semantic,
			Overlap:          m.SubScores.Overlap,
			Strength:         m.SubScores.Strength,
			Bonus:            m.SubScores.Bonus,
		})
	}
	return writeCSV(w, rows, matchRow{})
}

// WriteUnmatchedCSV writes one row per unmatched candidate.
func (r *Report) WriteUnmatchedCSV(w io.Writer) error {
	rows := make([]unmatchedRow, 0, len(r.Unmatched))
	for _, u := range r.Unmatched {
		rows = append(rows, unmatchedRow(u))
	}
	return writeCSV(w, rows, unmatchedRow{})
}

func writeCSV[T any](w io.Writer, rows []T, header T) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	if len(rows) == 0 {
		if err := enc.EncodeHeader(header); err != nil {
			return fmt.Errorf("csv header: %w", err)
		}
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
