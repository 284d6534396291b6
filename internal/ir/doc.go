// Package ir provides the canonical intermediate representation for loom.
//
// This package contains type definitions and serialization only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// IR the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers. Floats break
//     byte-identical content addressing across platforms.
//   - All JSON tags use snake_case.
//   - Logical clocks (seq) only, never wall-clock timestamps, anywhere a
//     value participates in a content hash.
//   - Board maps are keyed by entity id, and every key must equal the
//     contained entity's own id (checked by Board.Validate).
package ir
