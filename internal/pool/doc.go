// Copyright (c) AegisRAG Authors.
// Licensed under the MIT License.

// Package pool provides the bounded worker pool used for detached background
// work such as follow-up question generation.
package pool
