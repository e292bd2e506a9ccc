package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/phenoproxy/traitgraph/internal/util"
	"github.com/phenoproxy/traitgraph/pkg/common"
	"github.com/phenoproxy/traitgraph/pkg/meta"
)

// column describes one logical table column and the header spellings
// it is accepted under. Aliases are ordered most specific first so a
// table carrying both "h2_obs" and "h2" binds the specific one.
type column struct {
	name     string
	aliases  []string
	required bool
}

var heritabilityColumns = []column{
	{name: "study", aliases: []string{"study_id", "id", "study"}, required: true},
	{name: "trait", aliases: []string{"trait", "description", "phenotype"}, required: true},
	{name: "population", aliases: []string{"population", "pop"}},
	{name: "n", aliases: []string{"sample_size", "n_eff", "n"}},
	{name: "h2", aliases: []string{"h2_obs", "snp_h2", "h2"}, required: true},
	{name: "h2_se", aliases: []string{"h2_obs_se", "h2_se", "se"}, required: true},
	{name: "h2_z", aliases: []string{"h2_z", "z"}},
}

var correlationColumns = []column{
	{name: "study_a", aliases: []string{"id1", "p1", "study1"}, required: true},
	{name: "study_b", aliases: []string{"id2", "p2", "study2"}, required: true},
	{name: "rg", aliases: []string{"rg"}, required: true},
	{name: "rg_se", aliases: []string{"rg_se", "se"}, required: true},
	{name: "rg_z", aliases: []string{"rg_z", "z"}},
	{name: "rg_p", aliases: []string{"rg_p", "p"}},
}

func readHeritabilityTable(path string) ([]common.StudyHeritability, int, error) {
	reader, closeTable, err := openTable(path)
	if err != nil {
		return nil, 0, err
	}
	defer closeTable()

	columns, err := readHeader(reader, path, heritabilityColumns)
	if err != nil {
		return nil, 0, err
	}

	var records []common.StudyHeritability
	seen := make(map[int64]bool)
	fold := make(map[string]string)
	skipped := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		studyID, err := strconv.ParseInt(columns.get(row, "study"), 10, 64)
		if err != nil {
			skipped++
			continue
		}

		trait := common.CanonicalTrait(columns.get(row, "trait"))
		if trait == "" {
			skipped++
			continue
		}

		// Study ids are unique per row; the first occurrence wins.
		if seen[studyID] {
			skipped++
			continue
		}

		h2, err := parseStat(columns.get(row, "h2"))
		if err != nil {
			skipped++
			continue
		}
		h2SE, err := parseStat(columns.get(row, "h2_se"))
		if err != nil {
			skipped++
			continue
		}
		h2Z, _ := parseStat(columns.get(row, "h2_z"))
		if !h2Z.Valid && h2.Valid && h2SE.Valid && h2SE.Value > 0 {
			h2Z = common.NewStat(h2.Value / h2SE.Value)
		}

		// Trait identity is case-insensitive; the first spelling seen
		// becomes the canonical key for the whole fold group.
		folded := strings.ToLower(trait)
		canonical, ok := fold[folded]
		if !ok {
			canonical = trait
			fold[folded] = canonical
		}

		seen[studyID] = true
		records = append(records, common.StudyHeritability{
			StudyID:    studyID,
			Trait:      trait,
			TraitKey:   canonical,
			Population: columns.get(row, "population"),
			SampleSize: parseCount(columns.get(row, "n")),
			H2:         h2,
			H2SE:       h2SE,
			H2Z:        h2Z,
		})
	}

	return records, skipped, nil
}

func readCorrelationTable(path string) ([]common.StudyCorrelation, int, error) {
	reader, closeTable, err := openTable(path)
	if err != nil {
		return nil, 0, err
	}
	defer closeTable()

	columns, err := readHeader(reader, path, correlationColumns)
	if err != nil {
		return nil, 0, err
	}

	var records []common.StudyCorrelation
	skipped := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}

		studyA, errA := strconv.ParseInt(columns.get(row, "study_a"), 10, 64)
		studyB, errB := strconv.ParseInt(columns.get(row, "study_b"), 10, 64)
		if errA != nil || errB != nil {
			skipped++
			continue
		}

		rg, err := parseStat(columns.get(row, "rg"))
		if err != nil {
			skipped++
			continue
		}
		rgSE, err := parseStat(columns.get(row, "rg_se"))
		if err != nil {
			skipped++
			continue
		}
		rgZ, _ := parseStat(columns.get(row, "rg_z"))
		if !rgZ.Valid && rg.Valid && rgSE.Valid && rgSE.Value > 0 {
			rgZ = common.NewStat(rg.Value / rgSE.Value)
		}
		rgP, _ := parseStat(columns.get(row, "rg_p"))
		if !rgP.Valid && rgZ.Valid {
			rgP = common.NewStat(meta.TwoSidedP(rgZ.Value))
		}

		records = append(records, common.StudyCorrelation{
			StudyA: studyA,
			StudyB: studyB,
			RG:     rg,
			RGSE:   rgSE,
			RGZ:    rgZ,
			RGP:    rgP,
		})
	}

	return records, skipped, nil
}

// openTable opens a table file for reading, transparently wrapping
// gzip-compressed files, and returns a CSV reader tuned for the
// delimiter the header line uses.
func openTable(path string) (*csv.Reader, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, &DataLoadError{Path: path, Reason: "cannot open table", Err: err}
	}

	var raw io.Reader = file
	closeTable := file.Close

	if strings.HasSuffix(path, ".gz") {
		unzipped, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, nil, &DataLoadError{Path: path, Reason: "cannot read gzip stream", Err: err}
		}
		raw = unzipped
		closeTable = func() error {
			unzipped.Close()
			return file.Close()
		}
	}

	buffered := bufio.NewReader(raw)
	head, _ := buffered.Peek(4096)

	reader := csv.NewReader(buffered)
	reader.Comma = sniffDelimiter(head)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	return reader, closeTable, nil
}

func sniffDelimiter(head []byte) rune {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	if bytes.ContainsRune(line, '\t') {
		return '\t'
	}
	return ','
}

// tableColumns maps logical column names to their index in a row.
type tableColumns map[string]int

func readHeader(reader *csv.Reader, path string, spec []column) (tableColumns, error) {
	header, err := reader.Read()
	if err != nil {
		return nil, &DataLoadError{Path: path, Reason: "missing header row", Err: err}
	}

	index := make(map[string]int, len(header))
	for i, cell := range header {
		index[strings.ToLower(strings.TrimSpace(cell))] = i
	}

	columns := make(tableColumns, len(spec))
	for _, col := range spec {
		found := false
		for _, alias := range col.aliases {
			if i, ok := index[alias]; ok {
				columns[col.name] = i
				found = true
				break
			}
		}
		if !found && col.required {
			return nil, &DataLoadError{
				Path: path,
				Reason: fmt.Sprintf("missing required column %q (accepted headers: %s)",
					col.name, strings.Join(col.aliases, ", ")),
			}
		}
	}

	return columns, nil
}

func (c tableColumns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return util.SanitizeCellText(strings.TrimSpace(row[i]))
}

// parseStat parses one numeric cell. Missing markers and non-finite
// values load as "not present"; anything else non-numeric is an error
// so the caller can skip the row.
func parseStat(cell string) (common.Stat, error) {
	switch strings.ToLower(cell) {
	case "", "na", "n/a", "nan", "null", "none", ".":
		return common.Stat{}, nil
	}

	value, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return common.Stat{}, fmt.Errorf("not a number: %q", cell)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return common.Stat{}, nil
	}

	return common.NewStat(value), nil
}

// parseCount parses an optional sample-size cell; malformed or
// missing counts load as zero (unknown).
func parseCount(cell string) int64 {
	if cell == "" {
		return 0
	}
	if v, err := strconv.ParseInt(cell, 10, 64); err == nil && v > 0 {
		return v
	}
	if v, err := strconv.ParseFloat(cell, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0 {
		return int64(v)
	}
	return 0
}
