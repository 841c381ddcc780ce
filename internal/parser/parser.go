package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"golang.org/x/text/encoding/charmap"

	"github.com/conorfennell/cardcrawl/internal/domain"
	"github.com/conorfennell/cardcrawl/internal/knol"
)

// MaxFileSize is the largest deck file accepted for import.
const MaxFileSize = 10 << 20

// DefaultNoteType is used when a row has no fourth column.
const DefaultNoteType = "Basic"

var validate = validator.New(validator.WithRequiredStructEnabled())

// row is one cleaned CSV record before it becomes a card.
type row struct {
	Front    string   `validate:"required,max=4096"`
	Back     string   `validate:"required,max=4096"`
	Tags     []string `validate:"dive,max=64"`
	NoteType string   `validate:"required,max=64"`
}

// RowError reports a record that could not be turned into a card.
// Rows are numbered from 1.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Result holds the cards of one file along with rejected rows.
type Result struct {
	Cards    []domain.Card
	Errors   []*RowError
	Warnings []string
}

// Stats summarises a parse result.
type Stats struct {
	TotalCards int            `json:"total_cards"`
	UniqueTags []string       `json:"unique_tags"`
	NoteTypes  map[string]int `json:"note_types"`
	Errors     int            `json:"errors"`
	Warnings   int            `json:"warnings"`
}

// Stats counts tags and note types across the parsed cards.
func (r Result) Stats() Stats {
	tags := lo.Uniq(lo.FlatMap(r.Cards, func(c domain.Card, _ int) []string { return c.Tags }))
	sort.Strings(tags)

	noteTypes := map[string]int{}
	for _, c := range r.Cards {
		noteTypes[c.NoteType]++
	}
	return Stats{
		TotalCards: len(r.Cards),
		UniqueTags: tags,
		NoteTypes:  noteTypes,
		Errors:     len(r.Errors),
		Warnings:   len(r.Warnings),
	}
}

// ParseFile reads a CSV deck from the given path.
func ParseFile(path string) (Result, error) {
	file, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer file.Close()

	return ParseCSV(file)
}

// DeckName derives a deck name from a file path.
func DeckName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// ParseCSV reads Anki-style rows of front,back[,tags[,note_type]].
// Invalid rows are collected in Result.Errors and parsing continues. An
// error is returned when the input is empty, too large, unreadable, or
// yields no cards at all.
func ParseCSV(r io.Reader) (Result, error) {
	var res Result

	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return res, err
	}
	if len(data) > MaxFileSize {
		return res, fmt.Errorf("%w: file larger than %d bytes", domain.ErrValidation, MaxFileSize)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return res, fmt.Errorf("%w: file is empty", domain.ErrValidation)
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return res, fmt.Errorf("%w: undecodable file: %w", domain.ErrValidation, err)
		}
		data = decoded
		res.Warnings = append(res.Warnings, "file is not UTF-8; decoded as Latin-1")
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	for rowNum := 1; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				res.Errors = append(res.Errors, &RowError{Row: rowNum, Err: fmt.Errorf("%w: %w", domain.ErrValidation, err)})
				continue
			}
			return res, err
		}

		if blank(record) {
			continue
		}
		card, err := parseRecord(record)
		if err != nil {
			res.Errors = append(res.Errors, &RowError{Row: rowNum, Err: err})
			continue
		}
		res.Cards = append(res.Cards, card)
	}

	if len(res.Cards) == 0 {
		return res, fmt.Errorf("%w: no valid cards found", domain.ErrValidation)
	}
	return res, nil
}

func blank(record []string) bool {
	return lo.EveryBy(record, func(cell string) bool { return strings.TrimSpace(cell) == "" })
}

func parseRecord(record []string) (domain.Card, error) {
	if len(record) < 2 {
		return domain.Card{}, fmt.Errorf("%w: need at least 2 columns (front, back), got %d", domain.ErrValidation, len(record))
	}

	r := row{
		Front:    CleanText(record[0]),
		Back:     CleanText(record[1]),
		NoteType: DefaultNoteType,
	}
	if len(record) >= 3 {
		r.Tags = lo.Uniq(strings.Fields(record[2]))
	}
	if len(record) >= 4 && strings.TrimSpace(record[3]) != "" {
		r.NoteType = strings.TrimSpace(record[3])
	}

	if err := validate.Struct(r); err != nil {
		return domain.Card{}, fmt.Errorf("%w: %s", domain.ErrValidation, describe(err))
	}

	card := domain.Card{
		Front:    r.Front,
		Back:     r.Back,
		Tags:     r.Tags,
		NoteType: r.NoteType,
	}
	card.Hash = knol.Hash(card)
	return card, nil
}

// describe turns validator output into a short message naming the fields.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		field := strings.ToLower(fe.StructField())
		switch fe.Tag() {
		case "required":
			return field + " is empty"
		case "max":
			return fmt.Sprintf("%s longer than %s characters", field, fe.Param())
		default:
			return fmt.Sprintf("%s failed %s", field, fe.Tag())
		}
	})
	return strings.Join(msgs, "; ")
}
