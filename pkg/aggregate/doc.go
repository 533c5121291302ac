/*
Package aggregate merges per-worker result streams into one canonical
summary.

Worker summaries are newline-delimited JSON; each Point record feeds a
per-metric streaming accumulator holding count/sum/min/max, a Welford
running mean, and a bounded uniform reservoir (10 000 samples) from which
percentiles are computed at the end of the merge. Memory is therefore
O(metrics x reservoir) regardless of how many samples a run produces.

Accumulators are strictly additive across workers; merging is commutative
for count, sum, min, max and mean, and percentile estimates stay within 1%
relative error for metrics with 100 000+ samples.
*/
package aggregate
