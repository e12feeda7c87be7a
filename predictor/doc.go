// Package predictor implements the per-worker normalized-LMS linear model:
// a weighted sum over a fixed-size history window predicts next-interval
// demand, and weights are nudged toward the observed error after each
// interval. All arithmetic is fixed-point (see New), per the host
// environment's guidance against relying on a floating-point unit being
// available in every calling context.
package predictor
