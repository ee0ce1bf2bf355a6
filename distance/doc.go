// Package distance defines the metric surface shared by clustering, the
// pairwise-distance primitive and the IVF-PQ index.
//
// Every scoring function orders candidates ascending (smaller is closer);
// similarity metrics are negated internally so callers never branch on
// direction.
package distance
