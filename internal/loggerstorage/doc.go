// Package loggerstorage normalizes the heterogeneous on-disk output of
// meteorological data loggers into per-series-group time series.
//
// A compiled-in set of formats is supported: several delimited text
// layouts (simple, cr1000, deltacom, lastem, pc208w), the WDAT5 binary
// archive format and direct SQL tables. Each storage resolves naive
// local timestamps to a single fixed UTC offset, interprets configured
// null markers, and caches partial reads so repeated queries with
// non-decreasing thresholds never rescan the files.
package loggerstorage
