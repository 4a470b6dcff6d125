// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidJob indicates an IngestionJob failed validation.
	ErrInvalidJob = errors.New("invalid ingestion job")

	// ErrInvalidTransition indicates an illegal job state transition.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrEmptyChunkText indicates a TextChunk with empty text.
	ErrEmptyChunkText = errors.New("chunk text cannot be empty")

	// ErrEmptySourceID indicates a job without a source identifier.
	ErrEmptySourceID = errors.New("source id cannot be empty")

	// ErrInvalidJobKind indicates an unrecognized JobKind value.
	ErrInvalidJobKind = errors.New("invalid job kind")

	// ErrInvalidDimension indicates a non-positive collection dimension.
	ErrInvalidDimension = errors.New("collection dimension must be positive")

	// ErrInvalidMetric indicates an unrecognized distance metric.
	ErrInvalidMetric = errors.New("invalid distance metric")

	// ErrDimensionMismatch indicates a vector whose length differs from the
	// collection dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
