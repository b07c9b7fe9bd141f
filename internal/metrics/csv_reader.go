package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ReadMetricsCSV reads a metrics CSV file and returns the parsed metrics along
// with the first and last timestamps found in the data.
func ReadMetricsCSV(path string) ([]Metric, time.Time, time.Time, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("open metrics CSV: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read and validate header
	header, err := reader.Read()
	if err != nil {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("read CSV header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[col] = i
	}

	requiredCols := []string{"timestamp", "device", "operation", "success", "rtt_ms"}
	for _, col := range requiredCols {
		if _, ok := colIndex[col]; !ok {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("CSV missing required column: %s", col)
		}
	}

	var metrics []Metric
	var firstTime, lastTime time.Time
	rowCount := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, time.Time{}, time.Time{}, fmt.Errorf("read CSV row %d: %w", rowCount+2, err)
		}

		m := Metric{}

		if idx, ok := colIndex["timestamp"]; ok && idx < len(record) {
			if t, err := time.Parse(time.RFC3339Nano, record[idx]); err == nil {
				m.Timestamp = t
				if rowCount == 0 {
					firstTime = t
				}
				lastTime = t
			}
		}
		str := func(col string) string {
			if idx, ok := colIndex[col]; ok && idx < len(record) {
				return record[idx]
			}
			return ""
		}
		m.ID = str("id")
		m.Device = str("device")
		m.Protocol = str("protocol")
		m.Operation = OperationType(str("operation"))
		m.Success = str("success") == "true"
		if v, err := strconv.ParseFloat(str("rtt_ms"), 64); err == nil {
			m.RTTMs = v
		}
		if v, err := strconv.ParseFloat(str("jitter_ms"), 64); err == nil {
			m.JitterMs = v
		}
		if v, err := strconv.Atoi(str("request_bytes")); err == nil {
			m.RequestBytes = v
		}
		if v, err := strconv.Atoi(str("response_bytes")); err == nil {
			m.ResponseBytes = v
		}
		if v, err := strconv.ParseUint(str("ack"), 10, 8); err == nil {
			m.Ack = uint8(v)
		}
		m.Outcome = Outcome(str("outcome"))
		m.Error = str("error")

		metrics = append(metrics, m)
		rowCount++
	}

	if rowCount == 0 {
		return nil, time.Time{}, time.Time{}, fmt.Errorf("no data rows in CSV file")
	}

	return metrics, firstTime, lastTime, nil
}
