// Package units converts between bandwidth (MB/s) and LLC-miss event counts
// per regulation interval. Every other package works in one of these two
// unit systems; units is the only place the conversion constants live.
package units
