// Soilsense - Geolocated Sensor Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/soilsense

package database

import "strings"

// isTransactionConflict checks if an error is a DuckDB transaction conflict (retryable)
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update") ||
		strings.Contains(errStr, "cannot update a table that has been altered")
}

// isConstraintViolation reports a unique-key collision. Two first writes for
// the same coordinate from different processes land here; the retry finds the
// row created by the winner.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Duplicate key") ||
		strings.Contains(errStr, "Constraint Error")
}

// isInternalError checks if an error is a DuckDB INTERNAL error
func isInternalError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "INTERNAL Error")
}
