package ingest

import (
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finfolio-app/finfolio/internal/apperr"
	"github.com/finfolio-app/finfolio/internal/model"
)

// Upload limits.
const (
	MaxFilesPerUpload = 10
	MaxRowsPerFile    = 10000
)

// RawFile is one uploaded file reduced to header-keyed rows.
type RawFile struct {
	Name string
	Rows []map[string]string
}

// ParseCSV reads a CSV upload into raw rows. The first record is the header;
// short rows are padded, long rows truncated by the csv reader settings.
func ParseCSV(name string, r io.Reader) (*RawFile, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, apperr.Validation("%s is empty", name)
	}
	if err != nil {
		return nil, apperr.Validation("%s: reading header: %v", name, err)
	}

	file := &RawFile{Name: name}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Validation("%s: row %d: %v", name, len(file.Rows)+2, err)
		}
		if len(file.Rows) >= MaxRowsPerFile {
			return nil, apperr.Validation("%s exceeds %d rows", name, MaxRowsPerFile)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		file.Rows = append(file.Rows, row)
	}
	return file, nil
}

// Canonical column keys after header normalization.
const (
	colDate        = "date"
	colDescription = "description"
	colAmount      = "amount"
	colDebit       = "debit"
	colCredit      = "credit"
	colCategory    = "category"
	colEntity      = "entity"
	colNote        = "note"
	colDisplay     = "display"
	colMemo        = "memo"
)

// headerSynonyms maps lowercased header names, including the Korean bank
// export vocabulary, to canonical keys.
var headerSynonyms = map[string]string{
	"date":             colDate,
	"transaction date": colDate,
	"posted date":      colDate,
	"거래일시":             colDate,
	"거래일자":             colDate,

	"description": colDescription,
	"memo":        colMemo,
	"details":     colDescription,
	"merchant":    colDescription,
	"payee":       colDescription,
	"보낸분/받는분":     colDescription,
	"거래처":         colDescription,

	"amount": colAmount,
	"amt":    colAmount,
	"value":  colAmount,

	"출금액(원)": colDebit,
	"출금액":    colDebit,
	"입금액(원)": colCredit,
	"입금액":    colCredit,

	"category":   colCategory,
	"categories": colCategory,

	"entity":               colEntity,
	"business/personal":    colEntity,
	"business or personal": colEntity,
	"tag":                  colEntity,
	"구분":                   colEntity,

	"적요":      colNote,
	"내 통장 표시": colDisplay,
	"메모":      colMemo,
}

// dateLayouts are tried in order when parsing row dates.
var dateLayouts = []string{
	model.DateLayout,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"02 Jan 2006",
	time.RFC3339,
}

// NormalizeRows turns raw rows into transactions. Rows whose amount or date
// cannot be parsed are skipped and counted, never fatal; a file missing both
// an amount column and a debit/credit pair is rejected outright.
func NormalizeRows(file *RawFile) ([]*model.Transaction, int, error) {
	canonical := canonicalizeRows(file.Rows)

	hasAmount := columnPresent(canonical, colAmount)
	hasPair := columnPresent(canonical, colDebit) && columnPresent(canonical, colCredit)
	if !hasAmount && !hasPair {
		return nil, 0, apperr.Validation("%s: missing required columns: amount or debit/credit", file.Name)
	}

	var (
		txns    []*model.Transaction
		skipped int
	)
	for _, row := range canonical {
		amount, ok := rowAmount(row, hasAmount)
		if !ok {
			skipped++
			continue
		}
		date, ok := rowDate(row[colDate])
		if !ok {
			skipped++
			continue
		}

		category := strings.TrimSpace(row[colCategory])
		if category == "" {
			if amount.Sign() > 0 {
				category = "Income"
			} else {
				category = "Expense"
			}
		}
		entity := strings.TrimSpace(row[colEntity])
		if entity == "" {
			entity = "Unassigned"
		}

		txns = append(txns, &model.Transaction{
			Date:        date,
			Description: rowDescription(row),
			Amount:      amount,
			Category:    category,
			Entity:      entity,
			Raw: map[string]string{
				colNote:    strings.TrimSpace(row[colNote]),
				colDisplay: strings.TrimSpace(row[colDisplay]),
				colMemo:    strings.TrimSpace(row[colMemo]),
			},
		})
	}
	return txns, skipped, nil
}

// canonicalizeRows renames row keys through the synonym table. Unrecognized
// columns are dropped.
func canonicalizeRows(rows []map[string]string) []map[string]string {
	out := make([]map[string]string, len(rows))
	for i, row := range rows {
		c := make(map[string]string, len(row))
		for col, val := range row {
			if key, ok := headerSynonyms[strings.ToLower(strings.TrimSpace(col))]; ok {
				c[key] = val
			}
		}
		out[i] = c
	}
	return out
}

func columnPresent(rows []map[string]string, key string) bool {
	for _, row := range rows {
		if _, ok := row[key]; ok {
			return true
		}
	}
	return false
}

// rowDescription resolves the description, falling back to the note, memo or
// display columns. Korean exports often carry merchant text only in the note
// column, and an empty description would weaken the content signature.
func rowDescription(row map[string]string) string {
	for _, key := range []string{colDescription, colNote, colMemo, colDisplay} {
		if v := strings.TrimSpace(row[key]); v != "" {
			return v
		}
	}
	return ""
}

// rowAmount resolves the signed amount, folding a debit/credit pair into one
// value when no single amount column exists.
func rowAmount(row map[string]string, hasAmount bool) (decimal.Decimal, bool) {
	if hasAmount {
		return parseAmount(row[colAmount])
	}

	credit, okC := parseAmount(row[colCredit])
	debit, okD := parseAmount(row[colDebit])
	if !okC && !okD {
		return decimal.Decimal{}, false
	}
	if okC && credit.Sign() > 0 {
		return credit, true
	}
	if okD {
		return debit.Neg(), true
	}
	return decimal.Decimal{}, false
}

// parseAmount parses a decimal, tolerating thousands separators and currency
// noise like "₩1,250,000" or "$1,234.56".
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		case r == ',', r == ' ':
			// separator noise
		case r == '(':
			// accountant negatives: (123.45)
			b.WriteRune('-')
		default:
			// currency symbols and other noise
		}
	}
	d, err := decimal.NewFromString(b.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func rowDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
