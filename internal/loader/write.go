package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"openrange/pkg/model"
)

// Header is the column header written by Write
var Header = []string{"datetime", "open", "high", "low", "close", "volume"}

// Write writes bars in the format Read accepts, prices rounded to cents
func Write(w io.Writer, bars []model.Bar) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, b := range bars {
		record := []string{
			b.Time.Format("2006-01-02 15:04:05"),
			decimal.NewFromFloat(b.Open).StringFixed(2),
			decimal.NewFromFloat(b.High).StringFixed(2),
			decimal.NewFromFloat(b.Low).StringFixed(2),
			decimal.NewFromFloat(b.Close).StringFixed(2),
			strconv.FormatInt(b.Volume, 10),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
