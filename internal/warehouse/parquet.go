package warehouse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/SebastienMelki/appgate/internal/configsvc"
)

// DecisionRow is one decision event flattened for Hive/Athena queries.
type DecisionRow struct {
	ID          string `parquet:"id,snappy"`
	DecisionID  string `parquet:"decision_id,snappy"`
	RequestID   string `parquet:"request_id,snappy,optional"`
	TimestampMS int64  `parquet:"timestamp_ms"`

	Outcome string `parquet:"outcome,snappy,dict"`
	Status  int32  `parquet:"status"`
	Cached  bool   `parquet:"cached"`
	Message string `parquet:"message,snappy,optional"`

	BundleID      string `parquet:"bundle_id,snappy,dict"`
	OS            string `parquet:"os,snappy,dict,optional"`
	StoreID       string `parquet:"store_id,snappy,dict,optional"`
	Locale        string `parquet:"locale,snappy,dict,optional"`
	AttributionID string `parquet:"af_id,snappy,optional"`
	HasPushToken  bool   `parquet:"has_push_token"`
	Organic       bool   `parquet:"organic"`

	URL         string `parquet:"url,snappy,optional"`
	ExpiresAtMS int64  `parquet:"expires_at_ms,optional"`

	// Partition columns (for Hive partitioning)
	Year  int `parquet:"year,dict"`
	Month int `parquet:"month,dict"`
	Day   int `parquet:"day,dict"`
	Hour  int `parquet:"hour,dict"`
}

// decodeEvent parses a JetStream payload into a decision event.
func decodeEvent(data []byte) (configsvc.Event, error) {
	var evt configsvc.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return evt, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if evt.ID == "" || evt.DecisionID == "" || evt.Outcome == "" {
		return evt, fmt.Errorf("%w: missing id, decision_id or outcome", ErrMalformedRecord)
	}
	return evt, nil
}

// eventTime is the partition time of an event, in UTC.
func eventTime(evt configsvc.Event) time.Time {
	if evt.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return evt.Timestamp.UTC()
}

// RowFromEvent flattens a decision event into a DecisionRow.
func RowFromEvent(evt configsvc.Event) DecisionRow {
	ts := eventTime(evt)
	row := DecisionRow{
		ID:            evt.ID,
		DecisionID:    evt.DecisionID,
		RequestID:     evt.RequestID,
		TimestampMS:   ts.UnixMilli(),
		Outcome:       string(evt.Outcome),
		Status:        int32(evt.Status),
		Cached:        evt.Cached,
		Message:       evt.Message,
		BundleID:      evt.BundleID,
		OS:            evt.OS,
		StoreID:       evt.StoreID,
		Locale:        evt.Locale,
		AttributionID: evt.AttributionID,
		HasPushToken:  evt.HasPushToken,
		Organic:       evt.Organic,
		URL:           evt.URL,
		Year:          ts.Year(),
		Month:         int(ts.Month()),
		Day:           ts.Day(),
		Hour:          ts.Hour(),
	}
	if !evt.ExpiresAt.IsZero() {
		row.ExpiresAtMS = evt.ExpiresAt.UnixMilli()
	}
	return row
}

// ParquetWriter encodes decision rows as Parquet.
type ParquetWriter struct {
	config ParquetConfig
}

// NewParquetWriter creates a new Parquet writer.
func NewParquetWriter(cfg ParquetConfig) *ParquetWriter {
	return &ParquetWriter{config: cfg}
}

// Write encodes rows into a single Parquet file and returns its bytes.
func (w *ParquetWriter) Write(rows []DecisionRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, ErrNoRowsToWrite
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[DecisionRow](&buf,
		parquet.Compression(w.codec()),
		parquet.CreatedBy("appgate-decision-sink", "1.0.0", ""),
	)

	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("failed to write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

func (w *ParquetWriter) codec() compress.Codec {
	switch w.config.Compression {
	case "gzip":
		return &parquet.Gzip
	case "zstd":
		return &parquet.Zstd
	case "none":
		return &parquet.Uncompressed
	default:
		return &parquet.Snappy
	}
}

// ReadRows decodes a Parquet file written by Write. Data that is not a
// Parquet file returns an error.
func ReadRows(data []byte) ([]DecisionRow, error) {
	input := bytes.NewReader(data)
	if _, err := parquet.OpenFile(input, input.Size()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFile, err)
	}

	reader := parquet.NewGenericReader[DecisionRow](input)
	defer reader.Close()

	rows := make([]DecisionRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return rows[:n], nil
}
