// Package dataset joins the valuation series with the daily message counts
// into the final analysis table.
package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/moodfolio/internal/messages"
	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/tabular"
	"github.com/KaramelBytes/moodfolio/internal/utils"
	"github.com/KaramelBytes/moodfolio/internal/valuation"
)

// Column names of the final table.
const (
	ReturnLagColumn    = "daily_return_lag1"
	MessageCountColumn = "message_count"
)

// Row is one calendar day of the final analysis table.
type Row struct {
	Date            time.Time
	PortfolioValue  float64
	DailyReturn     series.Float
	DailyReturnLag1 series.Float
	MessageCount    int
}

// Merge left-joins counts onto the valuation calendar. Days without a count
// get zero; lag1(d) is the return of the previous row.
func Merge(v *valuation.Valuation, counts []messages.DailyCount) []Row {
	byDay := make(map[time.Time]int, len(counts))
	for _, c := range counts {
		byDay[series.Day(c.Date)] += c.Count
	}
	lag := series.Lag(v.Return, 1)
	rows := make([]Row, v.Len())
	for i, d := range v.Dates {
		rows[i] = Row{
			Date:            d,
			PortfolioValue:  v.Value[i],
			DailyReturn:     v.Return[i],
			DailyReturnLag1: lag[i],
			MessageCount:    byDay[d],
		}
	}
	return rows
}

// Returns projects the daily return column.
func Returns(rows []Row) []series.Float {
	out := make([]series.Float, len(rows))
	for i, r := range rows {
		out[i] = r.DailyReturn
	}
	return out
}

// Counts projects the message count column as defined floats.
func Counts(rows []Row) []series.Float {
	out := make([]series.Float, len(rows))
	for i, r := range rows {
		out[i] = series.Some(float64(r.MessageCount))
	}
	return out
}

var header = []string{"DATE", valuation.PortfolioValueColumn, valuation.DailyReturnColumn, ReturnLagColumn, MessageCountColumn}

// WriteCSV persists the final table. Undefined values are empty cells.
func WriteCSV(path string, rows []Row) error {
	recs := make([][]string, len(rows))
	for i, r := range rows {
		recs[i] = []string{
			series.FormatDay(r.Date),
			strconv.FormatFloat(r.PortfolioValue, 'f', -1, 64),
			r.DailyReturn.String(),
			r.DailyReturnLag1.String(),
			strconv.Itoa(r.MessageCount),
		}
	}
	b, err := utils.EncodeCSV(header, recs)
	if err != nil {
		return fmt.Errorf("encode final table: %w", err)
	}
	return utils.SafeWriteFile(path, b)
}

// ReadCSV loads an artifact written by WriteCSV.
func ReadCSV(path string) ([]Row, error) {
	t, err := tabular.ReadFile(path, tabular.Options{})
	if err != nil {
		return nil, fmt.Errorf("read final table: %w", err)
	}
	idx := make([]int, len(header))
	for k, col := range header {
		if idx[k] = t.Column(col); idx[k] < 0 {
			return nil, fmt.Errorf("read final table: missing column %s", col)
		}
	}
	rows := make([]Row, 0, len(t.Rows))
	for n, rec := range t.Rows {
		line := n + 2
		d, err := series.ParseDay(series.DayLayout, rec[idx[0]])
		if err != nil {
			return nil, fmt.Errorf("final table line %d: %w", line, err)
		}
		var fs [3]series.Float
		for k := range fs {
			if fs[k], err = series.ParseFloat(rec[idx[k+1]]); err != nil {
				return nil, fmt.Errorf("final table line %d, %s: %w", line, header[k+1], err)
			}
		}
		c, err := strconv.Atoi(strings.TrimSpace(rec[idx[4]]))
		if err != nil {
			return nil, fmt.Errorf("final table line %d, %s: %w", line, MessageCountColumn, err)
		}
		rows = append(rows, Row{Date: d, PortfolioValue: fs[0].Or(0), DailyReturn: fs[1], DailyReturnLag1: fs[2], MessageCount: c})
	}
	return rows, nil
}
