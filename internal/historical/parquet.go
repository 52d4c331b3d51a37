package historical

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// WriteParquet exports the archive to dir as one GZIP parquet file per calendar month,
// named archive_YYYY-MM.parquet. Existing files for the same month are replaced.
// It returns the paths written, oldest month first.
func WriteParquet(dir string, a *Archive) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parquet directory: %w", err)
	}

	months := make(map[string][]ArchivePoint)
	for _, r := range a.Records() {
		t := r.TradeDate.Time
		key := t.Format("2006-01")
		months[key] = append(months[key], ArchivePoint{
			Symbol:          r.Symbol,
			Date:            t.Format("2006-01-02"),
			Year:            int32(t.Year()),
			Month:           int32(t.Month()),
			Day:             int32(t.Day()),
			ClosePrice:      optionalFloat(r.ClosePrice),
			DeliveryPercent: optionalFloat(r.DeliveryPercent),
			Series:          optionalString(r.Series),
			Sector:          optionalString(r.Sector),
		})
	}

	keys := make([]string, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	paths := make([]string, 0, len(keys))
	for _, k := range keys {
		path := filepath.Join(dir, fmt.Sprintf("archive_%s.parquet", k))
		if err := writePoints(path, months[k]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writePoints(filename string, points []ArchivePoint) error {
	fw, err := local.NewLocalFileWriter(filename)
	if err != nil {
		return fmt.Errorf("failed to create parquet file: %w", err)
	}
	defer fw.Close()

	pw, err := writer.NewParquetWriter(fw, new(ArchivePoint), 4)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_GZIP
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024

	for _, p := range points {
		if err := pw.Write(p); err != nil {
			return fmt.Errorf("failed to write parquet data: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}

	slog.Debug("wrote parquet file", "path", filename, "rows", len(points))
	return nil
}
