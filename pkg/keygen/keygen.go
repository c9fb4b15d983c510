// Package keygen derives content-addressable cache keys for the modeling
// pipeline. Keys form a chain: a geometry hash feeds the mesh hash, which
// feeds the analysis hash, so any upstream change produces a different key
// downstream and cached entries never need explicit invalidation.
//
// All three functions are deterministic and order-independent: vertex and
// face order does not affect the geometry hash, and parameter maps hash
// identically regardless of insertion order.
package keygen

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Key prefixes identify the pipeline stage a key belongs to.
const (
	GeometryPrefix = "G-"
	MeshPrefix     = "M-"
	AnalysisPrefix = "A-"
)

// hexDigits is the truncated digest length carried in every key.
const hexDigits = 16

// Geometry is the hashable form of a model geometry: a vertex set and the
// faces indexing into it.
type Geometry struct {
	Vertices [][3]float64 `json:"vertices"`
	Faces    [][]int      `json:"faces"`
}

// GeometryHash returns the "G-<hex16>" key for a geometry. Vertices and
// faces are sorted into a canonical order before hashing, so two geometries
// with the same elements in different order produce the same key.
func GeometryHash(geom Geometry) (string, error) {
	canonical := Geometry{
		Vertices: sortedVertices(geom.Vertices),
		Faces:    sortedFaces(geom.Faces),
	}
	payload, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("canonicalize geometry: %w", err)
	}
	return GeometryPrefix + digest(payload), nil
}

// MeshHash returns the "M-<hex16>" key for a mesh derived from the geometry
// identified by geometryHash with the given meshing parameters.
func MeshHash(geometryHash string, meshParams map[string]any) (string, error) {
	payload, err := json.Marshal(struct {
		GeometryHash string         `json:"geometry_hash"`
		MeshParams   map[string]any `json:"mesh_params"`
	}{geometryHash, meshParams})
	if err != nil {
		return "", fmt.Errorf("canonicalize mesh inputs: %w", err)
	}
	return MeshPrefix + digest(payload), nil
}

// AnalysisHash returns the "A-<hex16>" key for an analysis run on the mesh
// identified by meshHash under the given boundary conditions and solver
// version.
func AnalysisHash(meshHash string, boundaryConditions map[string]any, solverVersion string) (string, error) {
	payload, err := json.Marshal(struct {
		BoundaryConditions map[string]any `json:"boundary_conditions"`
		MeshHash           string         `json:"mesh_hash"`
		SolverVersion      string         `json:"solver_version"`
	}{boundaryConditions, meshHash, solverVersion})
	if err != nil {
		return "", fmt.Errorf("canonicalize analysis inputs: %w", err)
	}
	return AnalysisPrefix + digest(payload), nil
}

// digest hashes a canonical payload and truncates to the key length.
// encoding/json emits map keys in sorted order and compact form, which is
// the canonical serialization the chain relies on.
func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:hexDigits]
}

func sortedVertices(vertices [][3]float64) [][3]float64 {
	out := make([][3]float64, len(vertices))
	copy(out, vertices)
	sort.Slice(out, func(i, j int) bool {
		for c := 0; c < 3; c++ {
			if out[i][c] != out[j][c] {
				return out[i][c] < out[j][c]
			}
		}
		return false
	})
	return out
}

func sortedFaces(faces [][]int) [][]int {
	out := make([][]int, len(faces))
	copy(out, faces)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
	return out
}
