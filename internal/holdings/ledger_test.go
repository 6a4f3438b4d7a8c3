package holdings

import (
	"archive/zip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/tabular"
)

func table(t *testing.T, text string) *tabular.Table {
	t.Helper()
	tb, err := tabular.ReadCSV(strings.NewReader(text), "stock.csv", ',')
	require.NoError(t, err)
	return tb
}

func days(l *Ledger) []string {
	out := make([]string, len(l.Dates))
	for i, d := range l.Dates {
		out[i] = series.FormatDay(d)
	}
	return out
}

func TestFromTableSortsFillsAndDerives(t *testing.T) {
	tb := table(t, `DATE,AAPL,TSLA
2024.01.04,10,
2024.01.02,10,5.9
2024.01.03,,5
`)
	l, err := FromTable(tb, LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "TSLA"}, l.Tickers)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03", "2024-01-04"}, days(l))
	assert.Equal(t, []int64{10, 0, 10}, l.Quantities["AAPL"])
	// 5.9 truncates to 5.
	assert.Equal(t, []int64{5, 5, 0}, l.Quantities["TSLA"])

	assert.Equal(t, []int{2, 1, 1}, l.HoldingCount)
	// First row is compared with an all-zero prior row.
	assert.Equal(t, []int{2, 1, 2}, l.TradeCount)
}

func TestFromTableCarryForward(t *testing.T) {
	tb := table(t, `date,AAPL
2024.01.02,
2024.01.03,7
2024.01.04,
`)
	l, err := FromTable(tb, LoadOptions{Policy: CarryForward})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 7, 7}, l.Quantities["AAPL"])
	assert.Equal(t, []int{0, 1, 0}, l.TradeCount)
}

func TestFromTableRejectsBadInput(t *testing.T) {
	_, err := FromTable(table(t, "DATE,AAPL\n2024.01.02,1\n2024.01.02,2\n"), LoadOptions{})
	assert.ErrorIs(t, err, ErrDuplicateDate)

	_, err = FromTable(table(t, "DATE,AAPL\n2024.01.02,-1\n"), LoadOptions{})
	assert.ErrorIs(t, err, ErrNegativeQuantity)

	_, err = FromTable(table(t, "WHEN,AAPL\n2024.01.02,1\n"), LoadOptions{})
	assert.ErrorIs(t, err, ErrNoDateColumn)

	_, err = FromTable(table(t, "DATE,AAPL\n2024-01-02,1\n"), LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = FromTable(table(t, "DATE,AAPL\n2024.01.02,ten\n"), LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AAPL")
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, TreatAsZero, p)
	p, err = ParsePolicy("Carry_Forward")
	require.NoError(t, err)
	assert.Equal(t, CarryForward, p)
	_, err = ParsePolicy("guess")
	assert.Error(t, err)
}

func TestLoadAndCleanedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	raw := filepath.Join(dir, "stock.csv")
	require.NoError(t, os.WriteFile(raw, []byte("DATE,005930.KS,AAPL\n2024.01.03,3,\n2024.01.02,1,2\n"), 0o644))

	l, err := Load(raw, LoadOptions{})
	require.NoError(t, err)

	out := filepath.Join(dir, "stock_cleaned.csv")
	require.NoError(t, WriteCleaned(out, l))
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "DATE,005930.KS,AAPL,holding_count,trade_count\n2024-01-02,1,2,2,2\n2024-01-03,3,0,1,2\n", string(b))

	back, err := ReadCleaned(out)
	require.NoError(t, err)
	assert.Equal(t, l, back)
}

func TestLoadXLSXWithDateStyledCells(t *testing.T) {
	p := filepath.Join(t.TempDir(), "stock.xlsx")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range map[string]string{
		"xl/workbook.xml": `<workbook xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><sheets>
<sheet name="Sheet1" sheetId="1" r:id="rId1"/></sheets></workbook>`,
		"xl/_rels/workbook.xml.rels": `<Relationships><Relationship Id="rId1" Target="worksheets/sheet1.xml"/></Relationships>`,
		"xl/styles.xml":              `<styleSheet><cellXfs count="2"><xf numFmtId="0"/><xf numFmtId="14" applyNumberFormat="1"/></cellXfs></styleSheet>`,
		"xl/worksheets/sheet1.xml": `<worksheet><sheetData>
<row r="1"><c r="A1" t="inlineStr"><is><t>DATE</t></is></c><c r="B1" t="inlineStr"><is><t>AAPL</t></is></c></row>
<row r="2"><c r="A2" s="1"><v>45293</v></c><c r="B2"><v>10</v></c></row>
<row r="3"><c r="A3" t="inlineStr"><is><t>2024.01.03</t></is></c><c r="B3"><v>12</v></c></row>
</sheetData></worksheet>`,
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	l, err := Load(p, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, days(l))
	assert.Equal(t, []int64{10, 12}, l.Quantities["AAPL"])
}
