// Package ingest loads a rank's per-process rating shard from disk. It
// follows the per-rank file convention and 4-field schema of
// original_source/nomad.cpp (user,item,rating,_), in the
// Parser-with-New/ParseFile style of pkg/scenario/parser/parser.go.
package ingest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/rs/zerolog/log"
)

// expectedFields is the schema nomad.cpp:258 gates on: user, item,
// rating, and one trailing field (a timestamp in the original dataset,
// unused here).
const expectedFields = 4

// Sink receives every parsed rating as it is read, so the caller can
// route it (possibly over the network, possibly straight into a local
// ratingstore.Store) without ingest buffering the whole file in memory.
type Sink interface {
	Insert(user, item int, value float64)
}

// Parser reads one rank's rating shard file.
type Parser struct {
	// Delimiter separates fields within a line (nomad.cpp defaults to
	// ','; the commented-out MovieLens-1M branch used '\t').
	Delimiter rune

	// ErrorCounter, if set, is incremented once per malformed line
	// skipped (wired to metrics.Registry.IngestParseErrors).
	ErrorCounter interface{ Inc() }
}

// New creates a parser. A zero Delimiter defaults to ','.
func New(delimiter rune) *Parser {
	if delimiter == 0 {
		delimiter = ','
	}
	return &Parser{Delimiter: delimiter}
}

// PathFor builds the per-rank shard path from a template containing a
// single "%d" placeholder, matching nomad.cpp's "ratings_<rank>.csv"
// per-process file convention.
func PathFor(pathTemplate string, rank model.Rank) string {
	return fmt.Sprintf(pathTemplate, int(rank))
}

// ParseFile reads path line by line and feeds every valid row to sink.
// Short lines (fewer than expectedFields fields) and lines with
// unparseable numeric fields are skipped and logged, not fatal — the
// same tolerant-skip policy as nomad.cpp's "if (e_idx == 4)" gate.
func (p *Parser) ParseFile(path string, sink Sink) (parsed int, skipped int, err error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, 0, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		user, item, rating, ok := p.parseLine(line)
		if !ok {
			skipped++
			if p.ErrorCounter != nil {
				p.ErrorCounter.Inc()
			}
			log.Warn().Str("path", path).Int("line", lineNo).Msg("ingest: skipping malformed line")
			continue
		}

		sink.Insert(user, item, rating)
		parsed++
	}
	if err := scanner.Err(); err != nil {
		return parsed, skipped, fmt.Errorf("ingest: scan %s: %w", path, err)
	}
	return parsed, skipped, nil
}

// parseLine applies the same transform as nomad.cpp:241-256: 1-indexed
// user/item ids become 0-indexed, ratings are normalized to [0,1] by
// dividing by 5.0. Only the first three fields are interpreted; any
// further fields (e.g. a timestamp) are required to be present (the
// 4-field gate) but otherwise ignored.
func (p *Parser) parseLine(line string) (user, item int, rating float64, ok bool) {
	fields := strings.Split(line, string(p.Delimiter))
	if len(fields) < expectedFields {
		return 0, 0, 0, false
	}

	userRaw, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return 0, 0, 0, false
	}
	itemRaw, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return 0, 0, 0, false
	}
	ratingRaw, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	if err != nil {
		return 0, 0, 0, false
	}

	return userRaw - 1, itemRaw - 1, ratingRaw / 5.0, true
}
