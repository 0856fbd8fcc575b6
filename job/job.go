// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package job defines the value types shared by every stage of the gigs
// frame loop: job type identity, entity identity, parameter fingerprints,
// lifecycle states, priorities and input readiness.
//
// The package has no dependencies on GPU code so that scheduling logic can
// be exercised without a device.
package job

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// TypeID names a registered job type. It is stable for the life of the
// process and participates in every fingerprint.
type TypeID string

// EntityID identifies a simulation entity carrying a job request.
// Each entity owns at most one job instance.
type EntityID uint64

// Fingerprint is a deterministic digest of a job type and the encoded bytes
// of its parameters. Two requests with equal fingerprints produce equal
// results.
type Fingerprint uint64

// String formats the fingerprint as fixed-width hex.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// FingerprintOf computes the FNV-1a 64-bit digest of the type ID followed by
// a length prefix and the encoded parameter bytes.
func FingerprintOf(t TypeID, encoded []byte) Fingerprint {
	h := fnv.New64a()
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(t)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(t))
	binary.LittleEndian.PutUint64(n[:], uint64(len(encoded)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(encoded)
	return Fingerprint(h.Sum64())
}

// Request is the description an entity carries of the job it wants run.
// Params must be a value of the parameter type registered for Type.
type Request struct {
	Type     TypeID
	Params   any
	Priority Priority
}

// Snapshot is the frame-local copy of a request taken during extraction.
// Later mutation of the simulation side never reaches a Snapshot.
type Snapshot struct {
	Type        TypeID
	Params      any
	Uniform     []byte
	Fingerprint Fingerprint
	Priority    Priority
}
