// Package dedupe remembers recently handled platform event deliveries so a
// retried webhook or replayed gateway event runs its handler at most once.
package dedupe
