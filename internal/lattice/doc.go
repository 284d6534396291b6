// Package lattice provides the algebraic merge contract the rest of loom
// is built on: join-semilattices over IR values, law verification, and a
// named catalog.
//
// Everything that merges concurrent state - contact blending in the
// propagation network, aspect parameter composition in the binder, and
// the interrupt control plane's coordination state - resolves to Join on
// a lattice from this package. Because Join is commutative, associative,
// and idempotent, merged state converges to the same value regardless of
// delivery order, with no locking.
//
// Lattices are registered into an explicit Catalog (no ambient global
// registry). Registration runs the lattice law checks and fails closed:
// a lattice that breaks a law is never trusted as a blend mode or reduce
// strategy.
package lattice
