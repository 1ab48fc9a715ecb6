// Package csvfile reads and writes the delimited files produced by the extractor.
//
// Output format:
//
//   - UTF-8, comma separated, one record per line terminated by "\n"
//   - every field is quoted, embedded quotes are doubled
//   - the first line is the header (column names)
//
// Rows are always written in the order of an explicit column list, so two
// files written with the same columns share an identical layout regardless of
// which fields the individual records carried. Fields a record lacks are
// written as empty strings; fields outside the column list are dropped.
//
// Appending follows a single rule: the header is written only when the target
// file is new or empty.
package csvfile
