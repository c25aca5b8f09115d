// Package similarity holds the pure scoring primitives: cosine similarity over
// embeddings, Jaccard overlap over normalized keyword sets, mood affinity over a
// curated label table and signal weighting. Nothing here performs I/O.
package similarity
