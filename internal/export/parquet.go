// Package export writes stored events to columnar files for offline analysis.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/vincentbai/shoptrace/internal/models"
)

func eventSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "session_id", Type: arrow.BinaryTypes.String},
		{Name: "visitor_id", Type: arrow.BinaryTypes.String},
		{Name: "event_type", Type: arrow.BinaryTypes.String},
		{Name: "event_data", Type: arrow.BinaryTypes.String},
		{Name: "page_url", Type: arrow.BinaryTypes.String},
		{Name: "page_title", Type: arrow.BinaryTypes.String},
		{Name: "created_at", Type: arrow.FixedWidthTypes.Timestamp_ms},
	}, nil)
}

// WriteEvents writes events to a Parquet file at path. event_data is kept as
// a JSON string column.
func WriteEvents(path string, events []models.Event) error {
	schema := eventSchema()
	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()

	for _, event := range events {
		data := event.Data
		if data == nil {
			data = map[string]any{}
		}
		dataJSON, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		builder.Field(0).(*array.StringBuilder).Append(event.SessionID)
		builder.Field(1).(*array.StringBuilder).Append(event.VisitorID)
		builder.Field(2).(*array.StringBuilder).Append(string(event.Type))
		builder.Field(3).(*array.StringBuilder).Append(string(dataJSON))
		builder.Field(4).(*array.StringBuilder).Append(event.PageURL)
		builder.Field(5).(*array.StringBuilder).Append(event.PageTitle)
		builder.Field(6).(*array.TimestampBuilder).Append(arrow.Timestamp(event.CreatedAt.UnixMilli()))
	}

	record := builder.NewRecord()
	defer record.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	writer, err := pqarrow.NewFileWriter(schema, f, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write events: %w", err)
	}
	return writer.Close()
}

// ReadEvents loads a file written by WriteEvents.
func ReadEvents(path string) ([]models.Event, error) {
	fileReader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer fileReader.Close()

	reader, err := pqarrow.NewFileReader(fileReader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}

	table, err := reader.ReadTable(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer table.Release()

	events := make([]models.Event, 0, table.NumRows())
	if table.NumRows() == 0 {
		return events, nil
	}

	tr := array.NewTableReader(table, 0)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		sessionCol := rec.Column(0).(*array.String)
		visitorCol := rec.Column(1).(*array.String)
		typeCol := rec.Column(2).(*array.String)
		dataCol := rec.Column(3).(*array.String)
		urlCol := rec.Column(4).(*array.String)
		titleCol := rec.Column(5).(*array.String)
		createdCol := rec.Column(6).(*array.Timestamp)

		for i := 0; i < int(rec.NumRows()); i++ {
			event := models.Event{
				SessionID: sessionCol.Value(i),
				VisitorID: visitorCol.Value(i),
				Type:      models.EventKind(typeCol.Value(i)),
				PageURL:   urlCol.Value(i),
				PageTitle: titleCol.Value(i),
				CreatedAt: time.UnixMilli(int64(createdCol.Value(i))).UTC(),
			}
			if err := json.Unmarshal([]byte(dataCol.Value(i)), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
			events = append(events, event)
		}
	}
	return events, nil
}
