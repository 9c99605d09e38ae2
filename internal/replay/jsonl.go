package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/brunao23/GerenciaBH-sub000/internal/conversation"
)

// jsonlLine is one exported chat-history row.
type jsonlLine struct {
	ID        json.RawMessage `json:"id"`
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	CreatedAt json.RawMessage `json:"created_at"`
}

type messageType struct {
	Type string `json:"type"`
}

// ParseJSONLFile reads a JSONL export into raw rows. Lines that are not
// JSON objects or lack a session id are skipped and counted. Rows without
// an id are numbered by line.
func ParseJSONLFile(path string) ([]conversation.RawMessageRow, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var rows []conversation.RawMessageRow
	skipped := 0
	lineNo := int64(0)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 10*1024*1024)
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line jsonlLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil || line.SessionID == "" || len(line.Message) == 0 {
			skipped++
			continue
		}

		row := conversation.RawMessageRow{
			SessionID:  line.SessionID,
			SequenceID: lineNo,
		}
		if id, ok := parseID(line.ID); ok {
			row.SequenceID = id
		}

		// message is either the JSON envelope itself or a string holding it.
		var text string
		if err := json.Unmarshal(line.Message, &text); err == nil {
			row.RawContent = text
		} else {
			row.RawContent = string(line.Message)
			var mt messageType
			if json.Unmarshal(line.Message, &mt) == nil {
				row.OriginMarker = mt.Type
			}
		}

		if ts, ok := parseCreatedAt(line.CreatedAt); ok {
			row.StoredTimestamp = &ts
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan: %w", err)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].SequenceID < rows[j].SequenceID
	})
	return rows, skipped, nil
}

func parseID(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func parseCreatedAt(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	return conversation.ParseTimestamp(s)
}
