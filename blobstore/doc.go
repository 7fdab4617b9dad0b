// Package blobstore abstracts where persistence artifacts live.
//
// The local store is the default for a single-process index owning a
// directory on disk. The memory store backs tests. The s3 and minio
// subpackages provide remote backends for off-host snapshot copies with the
// same atomic-replace contract.
//
// Artifact names are flat, relative keys ("shine.index", "cache_data.zst");
// stores must not interpret them beyond prefix matching for List.
package blobstore
