package report

import (
	"bytes"
	"context"
	"encoding/csv"

	"github.com/pkg/errors"
)

// exportCSV writes plain tabular rows with no styling; the always-available
// fallback format with no rendering dependency.
func exportCSV(ctx context.Context, name string, header []string, rows [][]string) (File, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return File{}, errors.Wrap(err, "writing csv header")
	}
	for _, row := range rows {
		if err := checkDeadline(ctx); err != nil {
			return File{}, err
		}
		if err := w.Write(row); err != nil {
			return File{}, errors.Wrap(err, "writing csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return File{}, errors.Wrap(err, "flushing csv")
	}

	return File{
		Name:        name + ".csv",
		ContentType: "text/csv",
		Data:        buf.Bytes(),
	}, nil
}
