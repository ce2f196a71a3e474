// Package loader reads delimited text sources into typed tables.
//
// Sources are decoded as UTF-8 (a leading BOM is dropped) with a fallback
// chain of 8-bit charmaps. The delimiter is sniffed from the header line
// unless configured. Column types are inferred once over the non-missing
// values of each column, in the order numeric, boolean, datetime,
// categorical, text.
//
// Every failure is reported as an EXTRACTION AppError whose "reason"
// context key is one of unreadable, too_large, empty, decode, parse,
// duplicate_header or ragged_row.
package loader
