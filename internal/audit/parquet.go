package audit

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

type parquetRecord struct {
	RequestID        string `parquet:"request_id"`
	SessionID        string `parquet:"session_id"`
	UserID           string `parquet:"user_id"`
	Intent           string `parquet:"intent"`
	TableName        string `parquet:"table_name"`
	Kind             string `parquet:"kind"`
	Success          bool   `parquet:"success"`
	DenialReason     string `parquet:"denial_reason"`
	SQL              string `parquet:"sql"`
	ParamCount       int32  `parquet:"param_count"`
	RowsReturned     int64  `parquet:"rows_returned"`
	RowsAffected     int64  `parquet:"rows_affected"`
	ElapsedMs        int64  `parquet:"elapsed_ms"`
	OccurredAtUnixMs int64  `parquet:"occurred_at_unix_ms"`
}

// EncodeParquet writes a batch of records as a single parquet file.
func EncodeParquet(records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("records are required")
	}

	rows := make([]parquetRecord, 0, len(records))
	for _, record := range records {
		rows = append(rows, parquetRecord{
			RequestID:        record.RequestID,
			SessionID:        record.SessionID,
			UserID:           record.UserID,
			Intent:           record.Intent,
			TableName:        record.Table,
			Kind:             record.Kind,
			Success:          record.Success,
			DenialReason:     record.DenialReason,
			SQL:              record.SQL,
			ParamCount:       int32(record.ParamCount),
			RowsReturned:     int64(record.RowsReturned),
			RowsAffected:     record.RowsAffected,
			ElapsedMs:        record.Elapsed.Milliseconds(),
			OccurredAtUnixMs: record.OccurredAt.UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRecord](buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
