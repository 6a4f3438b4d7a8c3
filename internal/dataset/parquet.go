package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/KaramelBytes/moodfolio/internal/series"
	"github.com/KaramelBytes/moodfolio/internal/utils"
)

// parquetRow mirrors Row. Undefined returns are stored as nulls.
type parquetRow struct {
	Date            string   `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	PortfolioValue  float64  `parquet:"name=portfolio_value, type=DOUBLE"`
	DailyReturn     *float64 `parquet:"name=daily_return, type=DOUBLE, repetitiontype=OPTIONAL"`
	DailyReturnLag1 *float64 `parquet:"name=daily_return_lag1, type=DOUBLE, repetitiontype=OPTIONAL"`
	MessageCount    int64    `parquet:"name=message_count, type=INT64"`
}

func optional(f series.Float) *float64 {
	if !f.OK {
		return nil
	}
	v := f.V
	return &v
}

// WriteParquet writes the final table as a SNAPPY-compressed parquet file.
func WriteParquet(path string, rows []Row) (err error) {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create parquet dir: %w", err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("open parquet file: %w", err)
	}
	defer func() {
		if cerr := fw.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close parquet file: %w", cerr)
		}
	}()
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, r := range rows {
		rec := parquetRow{
			Date:            series.FormatDay(r.Date),
			PortfolioValue:  r.PortfolioValue,
			DailyReturn:     optional(r.DailyReturn),
			DailyReturnLag1: optional(r.DailyReturnLag1),
			MessageCount:    int64(r.MessageCount),
		}
		if err := pw.Write(rec); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish parquet file: %w", err)
	}
	return nil
}
