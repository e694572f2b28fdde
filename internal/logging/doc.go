// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package logging provides the string vocabulary accepted by
// PKD_LOG_LEVEL and a lookup table from that vocabulary to zerolog.Level,
// consumed by internal/config when it builds the process-wide logger.
package logging
