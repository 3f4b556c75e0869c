package engine

import (
	"encoding/csv"
	"strconv"
	"strings"
)

// parseHiddenPIDs reads tasklist CSV output and returns engine processes
// that own no visible window.
func parseHiddenPIDs(out string) ([]int, error) {
	reader := csv.NewReader(strings.NewReader(out))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	var pids []int
	for i, row := range records {
		if i == 0 || len(row) < 9 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			continue
		}
		switch strings.TrimSpace(row[len(row)-1]) {
		case "", "N/A", "HardwareMonitorWindow":
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
