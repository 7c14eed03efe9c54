package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/plc-monitor/plcpoll-go/pkg/sink"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// RunExport exports the matching snapshots to the specified format.
func RunExport(path, format, output string, opts FilterOptions) error {
	reader, err := open(path, opts)
	if err != nil {
		return err
	}
	defer reader.Close()

	// Determine output writer
	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

// jsonSnapshot is the JSON shape of one exported snapshot.
type jsonSnapshot struct {
	ID        string      `json:"id"`
	Device    string      `json:"device"`
	Sequence  uint64      `json:"sequence"`
	Timestamp string      `json:"timestamp"`
	LatencyUS int64       `json:"latency_us"`
	Values    []jsonValue `json:"values"`
}

type jsonValue struct {
	Label   string    `json:"label"`
	Address string    `json:"address"`
	Type    string    `json:"type"`
	Raw     []uint16  `json:"raw"`
	Decoded []float64 `json:"decoded,omitempty"`
}

func exportJSONL(reader *sink.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return each(reader, func(s snapshot.RegisterSnapshot) error {
		out := jsonSnapshot{
			ID:        s.ID,
			Device:    s.Device,
			Sequence:  s.Sequence,
			Timestamp: s.Timestamp.UTC().Format(TimestampFormat),
			LatencyUS: s.Latency.Microseconds(),
			Values:    make([]jsonValue, 0, len(s.Values)),
		}
		for _, v := range s.Values {
			out.Values = append(out.Values, jsonValue{
				Label:   v.Label,
				Address: v.Address,
				Type:    string(v.Type),
				Raw:     v.Raw,
				Decoded: v.Decoded,
			})
		}
		if err := encoder.Encode(out); err != nil {
			return fmt.Errorf("failed to encode snapshot: %w", err)
		}
		return nil
	})
}

// exportCSV writes one row per decoded value.
func exportCSV(reader *sink.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	// Write header
	header := []string{"timestamp", "device", "sequence", "label", "address", "type", "index", "raw", "value"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := each(reader, func(s snapshot.RegisterSnapshot) error {
		ts := s.Timestamp.UTC().Format(TimestampFormat)
		seq := strconv.FormatUint(s.Sequence, 10)
		for _, v := range s.Values {
			for i, raw := range v.Raw {
				value := ""
				if i < len(v.Decoded) {
					value = strconv.FormatFloat(v.Decoded[i], 'g', -1, 64)
				}
				row := []string{ts, s.Device, seq, v.Label, v.Address, string(v.Type), strconv.Itoa(i), strconv.Itoa(int(raw)), value}
				if err := cw.Write(row); err != nil {
					return fmt.Errorf("failed to write row: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}
