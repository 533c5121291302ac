/*
Package analyze grades a canonical metric summary into a performance
report.

The grading starts from a score of 100 and applies fixed deductions for
latency, error rate, throughput, payload weight, and (for browser runs)
Core Web Vitals. Tiered thresholds apply only the larger deduction of the
pair. Each deduction emits a Finding with a recommendation drawn from a
static catalogue, so analyzing the same summary twice produces a
byte-identical report.
*/
package analyze
